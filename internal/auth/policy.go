package auth

// PolicyKind enumerates the access rules a gateway operation can require.
type PolicyKind int

const (
	// PolicyPublic allows any caller, anonymous included.
	PolicyPublic PolicyKind = iota
	// PolicyOwnerOnly allows only the record owner.
	PolicyOwnerOnly
	// PolicyValidatorOnly allows only callers with the validator capability.
	PolicyValidatorOnly
	// PolicyOwnerOrValidator allows the record owner or any validator.
	PolicyOwnerOrValidator
)

// Policy is an explicit authorization requirement. Each operation declares
// its policy once and evaluates it through Allows, instead of repeating
// boolean capability combinations at every call site.
type Policy struct {
	Kind  PolicyKind
	Owner string
}

// Public requires no identity.
func Public() Policy { return Policy{Kind: PolicyPublic} }

// OwnerOnly requires the caller to be owner.
func OwnerOnly(owner string) Policy { return Policy{Kind: PolicyOwnerOnly, Owner: owner} }

// ValidatorOnly requires the validator capability.
func ValidatorOnly() Policy { return Policy{Kind: PolicyValidatorOnly} }

// OwnerOrValidator requires the caller to be owner or hold the validator
// capability.
func OwnerOrValidator(owner string) Policy {
	return Policy{Kind: PolicyOwnerOrValidator, Owner: owner}
}

// Allows reports whether the identity satisfies the policy.
func (p Policy) Allows(id Identity) bool {
	switch p.Kind {
	case PolicyPublic:
		return true
	case PolicyOwnerOnly:
		return !id.Anonymous() && id.Address == p.Owner
	case PolicyValidatorOnly:
		return id.Validator
	case PolicyOwnerOrValidator:
		return id.Validator || (!id.Anonymous() && id.Address == p.Owner)
	default:
		return false
	}
}
