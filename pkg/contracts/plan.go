package contracts

// TaskPlan is the formalized extraction of a question. It is produced once per
// request by a TaskInterpreter and never mutated afterwards.
type TaskPlan struct {
	Question  string   `json:"question"`
	Domain    string   `json:"domain,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Variables []string `json:"variables"`
	Window    string   `json:"window,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	// Stated holds numeric values literally present in the question. They are
	// bound with user-supplied provenance.
	Stated map[string]float64 `json:"stated,omitempty"`
}

// HasVariable reports whether the plan extracted the named variable.
func (p *TaskPlan) HasVariable(name string) bool {
	for _, v := range p.Variables {
		if v == name {
			return true
		}
	}
	if _, ok := p.Stated[name]; ok {
		return true
	}
	return false
}
