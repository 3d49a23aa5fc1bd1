package config

import "sync"

type subscribers struct {
	// mu is held while sending so cancel never closes a channel mid-send.
	mu   sync.Mutex
	next uint64
	set  map[uint64]chan *Config
}

func (s *subscribers) add(buffer int) (<-chan *Config, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)

	s.mu.Lock()
	if s.set == nil {
		s.set = make(map[uint64]chan *Config)
	}
	s.next++
	id := s.next
	s.set[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.set, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// publish delivers cfg to every subscriber, evicting the oldest pending
// config of a full one. It returns how many evictions happened.
func (s *subscribers) publish(cfg *Config) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for _, ch := range s.set {
		for {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
					evicted++
				default:
				}
				continue
			}
			break
		}
	}
	return evicted
}
