package tasks

import "github.com/byte4ever/tagpromoter/gitops/promoter"

// AddForTest exposes Registry.add.
func (r *Registry) AddForTest(id string, req promoter.Request) {
	r.add(id, req)
}

// StartForTest exposes Registry.start.
func (r *Registry) StartForTest(id string) {
	r.start(id)
}

// FinishForTest exposes Registry.finish.
func (r *Registry) FinishForTest(
	id string,
	out promoter.Outcome,
) State {
	return r.finish(id, out)
}

// LenForTest returns the number of stored tasks.
func (r *Registry) LenForTest() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tasks)
}

// OnJoinForTest registers fn as the hook run before a
// worker enters the shared call. It must be set before
// the first Submit.
func (p *Pool) OnJoinForTest(fn func(branch string)) {
	p.joining = fn
}
