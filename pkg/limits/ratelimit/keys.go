package ratelimit

import (
	"mercator-hq/tollgate/pkg/identity"
)

// keyPrefix namespaces rate limit windows in the counter store.
const keyPrefix = "rl:"

// DeriveKey builds the window key of id under p:
//
//	rl:<policy>:ip:<address>
//	rl:<policy>:subject:<subject id>
//
// StrategySubjectOrIP picks the subject form when id is authenticated.
func DeriveKey(p Policy, id identity.Identity) (string, error) {
	switch p.KeyStrategy {
	case StrategySubject:
		if id.SubjectID == "" {
			return "", ErrNoKey
		}
		return subjectKey(p.Name, id.SubjectID), nil
	case StrategySubjectOrIP:
		if id.SubjectID != "" {
			return subjectKey(p.Name, id.SubjectID), nil
		}
		fallthrough
	default:
		if id.RemoteIP == "" {
			return "", ErrNoKey
		}
		return ipKey(p.Name, id.RemoteIP), nil
	}
}

// CustomKey builds the window key of a caller-supplied value, for callers
// that derive identity themselves:
//
//	rl:<policy>:key:<value>
func CustomKey(p Policy, value string) (string, error) {
	if value == "" {
		return "", ErrNoKey
	}
	return policyPrefix(p.Name) + "key:" + value, nil
}

func policyPrefix(policy string) string {
	return keyPrefix + policy + ":"
}

func ipKey(policy, ip string) string {
	return policyPrefix(policy) + "ip:" + ip
}

func subjectKey(policy, subjectID string) string {
	return policyPrefix(policy) + "subject:" + subjectID
}

// keysForValue lists the keys value may have been counted under.
func keysForValue(p Policy, value string) []string {
	custom := policyPrefix(p.Name) + "key:" + value
	switch p.KeyStrategy {
	case StrategySubject:
		return []string{subjectKey(p.Name, value), custom}
	case StrategySubjectOrIP:
		return []string{subjectKey(p.Name, value), ipKey(p.Name, value), custom}
	default:
		return []string{ipKey(p.Name, value), custom}
	}
}
