package relayfeed

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type StateBackendFactory func(dsn string) (StateBackend, error)
type ReplyQueueFactory func(dsn string, capacity int) (ReplyQueue, error)

var backendFactoryRegistry = struct {
	mu             sync.RWMutex
	stateFactories map[string]StateBackendFactory
	queueFactories map[string]ReplyQueueFactory
}{
	stateFactories: map[string]StateBackendFactory{},
	queueFactories: map[string]ReplyQueueFactory{},
}

// RegisterStateBackendFactory makes BuildStateBackendFromDSN route scheme to
// factory, taking precedence over the built-in schemes.
func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.stateFactories[scheme] = factory
}

func RegisterReplyQueueFactory(scheme string, factory ReplyQueueFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.queueFactories[scheme] = factory
}

func lookupStateBackendFactory(scheme string) (StateBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.stateFactories[scheme]
	return factory, ok
}

func lookupReplyQueueFactory(scheme string) (ReplyQueueFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.queueFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// backendDSN is a parsed storage DSN. path is only set for file targets:
// file:///abs/x and file://rel/x are both accepted, the latter with its host
// read as the first path segment, and a bare path has no scheme at all.
type backendDSN struct {
	raw    string
	scheme string
	path   string
}

func (d backendDSN) empty() bool {
	return d.raw == ""
}

func parseBackendDSN(dsn string) (backendDSN, error) {
	out := backendDSN{raw: strings.TrimSpace(dsn)}
	if out.raw == "" {
		return out, nil
	}
	parsed, err := url.Parse(out.raw)
	if err != nil {
		return backendDSN{}, err
	}
	out.scheme = normalizeBackendScheme(parsed.Scheme)
	switch out.scheme {
	case "":
		out.path = out.raw
	case "file":
		out.path = strings.TrimSpace(parsed.Opaque)
		if out.path == "" {
			out.path = strings.TrimSpace(parsed.Host) + strings.TrimSpace(parsed.Path)
		}
		if out.path == "" {
			return backendDSN{}, fmt.Errorf("%w: file dsn %q has no path", ErrInvalidInput, out.raw)
		}
	}
	return out, nil
}
