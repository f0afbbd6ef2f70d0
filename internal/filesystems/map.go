package filesystems

// DefaultFileSystemKey is the name of DefaultFileSystem. Routes carry no
// filesystem name of their own; every static_dir route uses
// DefaultFileSystem.
const DefaultFileSystemKey = "default"

// DefaultFileSystem is the OS-backed root every static_dir route is
// rooted under via fs.Sub, so a route's static_dir is never allowed to
// escape above the process's own filesystem view.
var DefaultFileSystem = OsFS{}
