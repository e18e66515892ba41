package orchestrator

// ResumePolicy decides how many automatic re-dispatches a run gets from
// the posting stage after a retry-exhausted failure, before a human
// re-approval is required. A policy object rather than an inline constant
// so boundary values are testable.
type ResumePolicy struct {
	MaxAutoResumes int
}

func DefaultResumePolicy() ResumePolicy {
	return ResumePolicy{MaxAutoResumes: 1}
}

// AllowResume reports whether a run that already consumed used automatic
// resumes may be re-driven once more without human action.
func (p ResumePolicy) AllowResume(used int) bool {
	return used < p.MaxAutoResumes
}
