package bot

import (
	"sync"
	"time"
)

// sessions remembers the quiz last shown per chat so a plain reply can be
// taken as its answer.
type sessions struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[int64]session
}

type session struct {
	quizID  string
	userID  string
	expires time.Time
}

func newSessions(ttl time.Duration, now func() time.Time) *sessions {
	return &sessions{ttl: ttl, now: now, m: map[int64]session{}}
}

func (s *sessions) set(chatID int64, userID, quizID string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	// opportunistic cleanup keeps the map bounded by active chats
	for k, v := range s.m {
		if now.After(v.expires) {
			delete(s.m, k)
		}
	}
	s.m[chatID] = session{quizID: quizID, userID: userID, expires: now.Add(s.ttl)}
}

// take returns and clears the pending quiz for the chat if it belongs to
// userID and has not expired.
func (s *sessions) take(chatID int64, userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[chatID]
	if !ok {
		return "", false
	}
	if s.now().After(v.expires) {
		delete(s.m, chatID)
		return "", false
	}
	if v.userID != userID {
		return "", false
	}
	delete(s.m, chatID)
	return v.quizID, true
}

func (s *sessions) clear(chatID int64, quizID string) {
	s.mu.Lock()
	if v, ok := s.m[chatID]; ok && v.quizID == quizID {
		delete(s.m, chatID)
	}
	s.mu.Unlock()
}
