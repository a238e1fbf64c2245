package browser

import "time"

// State is a point-in-time snapshot of a session's tree.
type State struct {
	SessionID        string        `json:"sessionId"`
	AutoActivate     bool          `json:"autoActivate"`
	CurrentContextID string        `json:"currentContextId,omitempty"`
	ActivePageID     string        `json:"activePageId,omitempty"`
	Browser          *BrowserState `json:"browser,omitempty"`
	LastUsed         time.Time     `json:"lastUsed"`
}

type BrowserState struct {
	ID        string         `json:"id"`
	Engine    Engine         `json:"engine"`
	Headless  bool           `json:"headless"`
	Version   string         `json:"version,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	Contexts  []ContextState `json:"contexts"`
}

type ContextState struct {
	ID    string      `json:"id"`
	Pages []PageState `json:"pages"`
}

type PageState struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Active bool   `json:"active,omitempty"`
}

// State returns a snapshot of the session's tree.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SessionID:    s.ID,
		AutoActivate: s.autoActivate,
		LastUsed:     s.LastUsed(),
	}
	if s.current != nil {
		st.CurrentContextID = s.current.ID
	}
	if s.active != nil {
		st.ActivePageID = s.active.ID
	}
	if s.browser == nil {
		return st
	}

	b := s.browser
	bs := &BrowserState{
		ID:        b.ID,
		Engine:    b.Engine,
		Headless:  b.Headless,
		StartedAt: b.StartedAt,
		Contexts:  []ContextState{},
	}
	if !b.Crashed() {
		bs.Version = b.Version()
	}
	for _, c := range b.Contexts() {
		cs := ContextState{ID: c.ID, Pages: []PageState{}}
		for i, p := range c.Pages() {
			cs.Pages = append(cs.Pages, PageState{
				ID:     p.ID,
				Index:  i,
				URL:    p.URL(),
				Active: p == s.active,
			})
		}
		bs.Contexts = append(bs.Contexts, cs)
	}
	st.Browser = bs
	return st
}

// SessionInfo summarizes a session for listings.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsed     time.Time `json:"lastUsed"`
	BrowserID    string    `json:"browserId,omitempty"`
	Engine       Engine    `json:"engine,omitempty"`
	Contexts     int       `json:"contexts"`
	Pages        int       `json:"pages"`
	AutoActivate bool      `json:"autoActivate"`
}

func (s *Session) info() SessionInfo {
	st := s.State()
	info := SessionInfo{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastUsed:     st.LastUsed,
		AutoActivate: st.AutoActivate,
	}
	if st.Browser != nil {
		info.BrowserID = st.Browser.ID
		info.Engine = st.Browser.Engine
		info.Contexts = len(st.Browser.Contexts)
		for _, c := range st.Browser.Contexts {
			info.Pages += len(c.Pages)
		}
	}
	return info
}
