package orchestrator

// Status summarizes a running engine for operators.
type Status struct {
	Worker     string            `json:"worker"`
	PID        int               `json:"pid,omitempty"`
	Pending    int               `json:"pending"`
	LastError  string            `json:"last_error,omitempty"`
	Workspaces []WorkspaceStatus `json:"workspaces"`
}

type WorkspaceStatus struct {
	Root         string `json:"root"`
	Session      string `json:"session"`
	Watching     bool   `json:"watching"`
	AutoGenerate bool   `json:"auto_generate"`
	Source       string `json:"source,omitempty"`
	Transform    string `json:"transform,omitempty"`
	Buffers      int    `json:"buffers"`
	Dirty        int    `json:"dirty"`
	Output       string `json:"output"`
}

// Status reports the worker state and every open workspace.
func (e *Engine) Status() Status {
	st := Status{
		Worker:     string(e.worker.State()),
		PID:        e.worker.PID(),
		Pending:    e.worker.Pending(),
		Workspaces: []WorkspaceStatus{},
	}
	if err := e.worker.LastError(); err != nil {
		st.LastError = err.Error()
	}
	for _, root := range e.registry.Roots() {
		snap, ok := e.registry.Snapshot(root)
		if !ok {
			continue
		}
		ws := WorkspaceStatus{
			Root:         snap.Root,
			Session:      snap.ID,
			Watching:     e.reactor.Watching(root),
			AutoGenerate: snap.AutoGenerate,
			Source:       snap.Selection.Source,
			Transform:    snap.Selection.Transform,
			Buffers:      len(snap.Buffers),
			Output:       e.reactor.OutputPath(snap.Root),
		}
		for _, b := range snap.Buffers {
			if b.Dirty {
				ws.Dirty++
			}
		}
		st.Workspaces = append(st.Workspaces, ws)
	}
	return st
}

// Personal.AI order the ending
