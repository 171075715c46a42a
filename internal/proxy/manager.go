package proxy

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultUserAgent is sent when no user agents are configured.
const DefaultUserAgent = "site-crawler/1.0 (+https://github.com/user/site-crawler)"

// Manager handles the rotation of proxies and user agents.
type Manager struct {
	proxies    []*url.URL
	userAgents []string
	mu         sync.Mutex
	proxyIndex int
	rnd        *rand.Rand
}

// NewManager parses the configured proxy URLs. Blank entries are ignored.
func NewManager(proxies, userAgents []string) (*Manager, error) {
	m := &Manager{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", raw)
		}
		m.proxies = append(m.proxies, u)
	}
	for _, ua := range userAgents {
		if ua = strings.TrimSpace(ua); ua != "" {
			m.userAgents = append(m.userAgents, ua)
		}
	}
	return m, nil
}

// Proxy picks the next proxy in round-robin order. It is shaped for
// http.Transport.Proxy and falls back to the environment when no proxies are
// configured.
func (m *Manager) Proxy(req *http.Request) (*url.URL, error) {
	if len(m.proxies) == 0 {
		return http.ProxyFromEnvironment(req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.proxies[m.proxyIndex]
	m.proxyIndex = (m.proxyIndex + 1) % len(m.proxies)
	return p, nil
}

// UserAgent returns a random configured user agent.
func (m *Manager) UserAgent() string {
	if len(m.userAgents) == 0 {
		return DefaultUserAgent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgents[m.rnd.Intn(len(m.userAgents))]
}
