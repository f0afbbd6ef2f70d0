package config

import "strconv"

// Clone returns a copy of c safe for a partial-edit mutator to write
// into: every slice a mutator below might index into is copied, so the
// snapshot already published to the Supervisor is never touched in
// place, preserving the "a Config is never mutated after Validate"
// invariant.
func (c *Config) Clone() *Config {
	clone := *c
	clone.HTTPRules = make([]HTTPRule, len(c.HTTPRules))
	for i, rule := range c.HTTPRules {
		rule.Routes = append([]HTTPRoute(nil), rule.Routes...)
		clone.HTTPRules[i] = rule
	}
	clone.WSRules = append([]WSRule(nil), c.WSRules...)
	clone.Stream.Servers = append([]StreamServer(nil), c.Stream.Servers...)
	return &clone
}

// SetListenRuleEnabled flips the enabled flag of the HTTP, WS, or stream
// listen rule named by ruleID, returning a new Config with the change
// applied and whether a matching rule was found. A stream listen rule
// has no id of its own in §3's data model, so it is addressed by its
// listen_port formatted as a decimal string.
func (c *Config) SetListenRuleEnabled(ruleID string, enabled bool) (*Config, bool) {
	clone := c.Clone()
	for i := range clone.HTTPRules {
		if clone.HTTPRules[i].ID == ruleID {
			clone.HTTPRules[i].Enabled = enabled
			return clone, true
		}
	}
	for i := range clone.WSRules {
		if clone.WSRules[i].ID == ruleID {
			clone.WSRules[i].Enabled = enabled
			return clone, true
		}
	}
	for i := range clone.Stream.Servers {
		if strconv.Itoa(clone.Stream.Servers[i].ListenPort) == ruleID {
			clone.Stream.Servers[i].Enabled = enabled
			return clone, true
		}
	}
	return c, false
}

// SetRouteEnabled flips the enabled flag of one route within an HTTP
// listen rule, the only route type in §3's data model carrying an
// enabled flag of its own (a WSRoute is always active once its rule is).
func (c *Config) SetRouteEnabled(ruleID, routeID string, enabled bool) (*Config, bool) {
	clone := c.Clone()
	for i := range clone.HTTPRules {
		if clone.HTTPRules[i].ID != ruleID {
			continue
		}
		for j := range clone.HTTPRules[i].Routes {
			if clone.HTTPRules[i].Routes[j].ID == routeID {
				clone.HTTPRules[i].Routes[j].Enabled = enabled
				return clone, true
			}
		}
	}
	return c, false
}
