package governance

import "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/config"

// FromConfig builds a Policy from the "governance" section of the
// Configuration Contract:
//
//	"governance": {
//	  "mode": "strict|lenient",
//	  "policies": { "<kind>.<op>": { "allow": true, "fields": [...], "max_payload_bytes": N } }
//	}
func FromConfig(cfg config.Config) *Policy {
	mode := Mode(cfg.String("mode", string(ModeStrict)))
	if mode != ModeStrict && mode != ModeLenient {
		mode = ModeStrict
	}

	policy := NewPolicy(mode)

	rawPolicies, ok := cfg.Any("policies", nil).(map[string]any)
	if !ok {
		return policy
	}

	for key, raw := range rawPolicies {
		ruleCfg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rule := Rule{
			Allow: asBool(ruleCfg["allow"]),
		}
		if fields, ok := ruleCfg["fields"].([]any); ok {
			for _, f := range fields {
				if s, ok := f.(string); ok {
					rule.Fields = append(rule.Fields, s)
				}
			}
		}
		if n, ok := ruleCfg["max_payload_bytes"].(int); ok {
			rule.MaxPayloadBytes = n
		} else if f, ok := ruleCfg["max_payload_bytes"].(float64); ok {
			rule.MaxPayloadBytes = int(f)
		}
		policy.Rules[key] = rule
	}

	return policy
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
