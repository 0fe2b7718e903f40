package policy

import "strings"

// Role is the operating role a profile searches under.
type Role string

const (
	RoleUnset      Role = ""
	RoleResearcher Role = "researcher"
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
)

// Rule describes what a role is focused on and which exceptions it gets.
type Rule struct {
	Role       Role
	FocusArea  string
	AllowVideo bool
	FocusTerms []string
}

var table = map[Role]Rule{
	RoleResearcher: {
		Role:       RoleResearcher,
		FocusArea:  "academic research, peer-reviewed papers, datasets, methodology and scholarly references",
		AllowVideo: false,
		FocusTerms: []string{"paper", "journal", "study", "dataset", "research", "analysis", "method", "citation", "review", "survey"},
	},
	RoleStudent: {
		Role:       RoleStudent,
		FocusArea:  "coursework, study guides, tutorials, homework help and exam preparation",
		AllowVideo: true,
		FocusTerms: []string{"learn", "tutorial", "homework", "exam", "course", "lecture", "study", "notes", "practice", "explain"},
	},
	RoleTeacher: {
		Role:       RoleTeacher,
		FocusArea:  "lesson planning, curriculum design, classroom activities and teaching resources",
		AllowVideo: true,
		FocusTerms: []string{"lesson", "curriculum", "classroom", "activity", "worksheet", "teaching", "assessment", "rubric", "syllabus", "lecture"},
	},
}

// Lookup returns the rule for r. ok is false for UNSET or unknown roles.
func Lookup(r Role) (Rule, bool) {
	rule, ok := table[r]
	return rule, ok
}

// AllowsVideo reports whether r may see video-host results.
func AllowsVideo(r Role) bool {
	rule, ok := table[r]
	return ok && rule.AllowVideo
}

// Valid reports whether r can be used to operate a session or search.
func (r Role) Valid() bool {
	_, ok := table[r]
	return ok
}

func (r Role) String() string {
	if r == RoleUnset {
		return "unset"
	}
	return string(r)
}

// Parse maps user input to a role. Unknown input yields RoleUnset.
func Parse(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "researcher", "research":
		return RoleResearcher
	case "student":
		return RoleStudent
	case "teacher":
		return RoleTeacher
	default:
		return RoleUnset
	}
}

// Roles lists the operating roles in display order.
func Roles() []Role {
	return []Role{RoleResearcher, RoleStudent, RoleTeacher}
}
