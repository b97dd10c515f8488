package model

// Role describes which side of a practice call a user takes.
type Role int

const (
	RoleNone    Role = iota // profile not yet announced
	RoleLearner             // wants to practice, initiates calls
	RoleSpeaker             // native speaker, receives calls
)

func (r Role) String() string {
	switch r {
	case RoleLearner:
		return "learner"
	case RoleSpeaker:
		return "speaker"
	default:
		return ""
	}
}

// ParseRole converts a wire string to a Role. Unknown values map to RoleNone.
func ParseRole(s string) Role {
	switch s {
	case "learner":
		return RoleLearner
	case "speaker":
		return RoleSpeaker
	default:
		return RoleNone
	}
}

// Valid returns true if the role is one of the announced values.
func (r Role) Valid() bool {
	return r == RoleLearner || r == RoleSpeaker
}
