package conversation

import "sync"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a site's conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store holds one ordered history per site identity. Histories only grow by
// whole question/answer pairs and only shrink through Reset.
type Store struct {
	mu    sync.RWMutex
	sites map[string][]Turn
}

func NewStore() *Store {
	return &Store{sites: make(map[string][]Turn)}
}

// Get returns a copy of the site's history, oldest first.
func (s *Store) Get(site string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sites[site]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// AppendPair appends the user question followed by the assistant answer.
func (s *Store) AppendPair(site, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sites[site] = append(s.sites[site],
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: answer},
	)
}

// Reset clears the site's history.
func (s *Store) Reset(site string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sites[site] = []Turn{}
}

// Load replaces the site's history with previously persisted turns.
// A trailing unpaired turn is dropped so the history stays pair-aligned.
func (s *Store) Load(site string, turns []Turn) {
	n := len(turns) - len(turns)%2
	loaded := make([]Turn, n)
	copy(loaded, turns[:n])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site] = loaded
}

// Has reports whether the store holds a history (possibly empty) for site.
func (s *Store) Has(site string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sites[site]
	return ok
}
