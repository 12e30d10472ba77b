package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"nutriwise/cmd/internal/logger"
)

// ErrNotReady is returned by UserID while the credentials file is still
// being loaded. Load failures wrap it, so errors.Is(err, ErrNotReady)
// covers every unresolved-identity state and the UI can show a sign-in
// prompt rather than a network error. Session operations fail fast on it
// instead of issuing requests with a zero user id.
var ErrNotReady = fmt.Errorf("identity not resolved yet")

// Credentials is the on-disk shape of the local credentials file.
// DeviceID is generated on first run and persisted so the install keeps a
// stable identity across restarts.
type Credentials struct {
	UserID   int64  `json:"user_id"`
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

// Resolver loads the user identity asynchronously and answers lookups
// afterwards. Before Load completes every UserID call returns ErrNotReady.
//
// Environment overrides (loaded into the process by config/godotenv):
//   CHAT_USER_ID   — overrides user_id from the file
//   CHAT_API_TOKEN — overrides token from the file
type Resolver struct {
	mu    sync.RWMutex
	path  string
	creds *Credentials
	err   error
	done  chan struct{}
	once  sync.Once
}

func NewResolver(path string) *Resolver {
	return &Resolver{path: path, done: make(chan struct{})}
}

// Start kicks off the background load. Safe to call more than once.
func (r *Resolver) Start() {
	r.once.Do(func() {
		go func() {
			creds, err := r.load()
			r.mu.Lock()
			r.creds = creds
			r.err = err
			r.mu.Unlock()
			close(r.done)
			if err != nil {
				logger.ErrorWithFields("identity resolution failed", logger.Fields{"error": err.Error()})
				return
			}
			logger.DebugWithFields("identity resolved", logger.Fields{"user_id": creds.UserID})
		}()
	})
}

// WaitReady blocks until the load finished or ctx is done.
func (r *Resolver) WaitReady(ctx context.Context) error {
	select {
	case <-r.done:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserID fails fast with ErrNotReady until the load has completed.
func (r *Resolver) UserID() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.creds == nil {
		if r.err != nil {
			return 0, r.err
		}
		return 0, ErrNotReady
	}
	return r.creds.UserID, nil
}

// Token returns the bearer token, or "" while unresolved. The HTTP layer
// skips the Authorization header in that case.
func (r *Resolver) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.creds == nil {
		return ""
	}
	return r.creds.Token
}

// DeviceID returns the install identifier, or "" while unresolved.
func (r *Resolver) DeviceID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.creds == nil {
		return ""
	}
	return r.creds.DeviceID
}

func (r *Resolver) load() (*Credentials, error) {
	path := r.path
	if !filepath.IsAbs(path) {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path)
		}
	}

	creds := &Credentials{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, creds); jsonErr != nil {
			// 손상된 파일은 이름을 바꿔두고 빈 상태에서 다시 시작한다.
			os.Rename(path, path+".backup")
			creds = &Credentials{}
		}
	case os.IsNotExist(err):
		// first run: env vars may still provide everything we need
	default:
		return nil, fmt.Errorf("%w: failed to read credentials file: %v", ErrNotReady, err)
	}

	if v := os.Getenv("CHAT_USER_ID"); v != "" {
		id, convErr := strconv.ParseInt(v, 10, 64)
		if convErr != nil {
			return nil, fmt.Errorf("%w: invalid CHAT_USER_ID %q: %v", ErrNotReady, v, convErr)
		}
		creds.UserID = id
	}
	if v := os.Getenv("CHAT_API_TOKEN"); v != "" {
		creds.Token = v
	}

	if creds.UserID == 0 {
		return nil, fmt.Errorf("%w: no user id in credentials file or CHAT_USER_ID", ErrNotReady)
	}

	persist := false
	if creds.DeviceID == "" {
		creds.DeviceID = uuid.NewString()
		persist = true
	}
	if persist {
		if err := r.save(path, creds); err != nil {
			// 저장 실패는 치명적이지 않다. 다음 실행에서 다시 생성된다.
			logger.WarnWithFields("failed to persist credentials", logger.Fields{"error": err.Error()})
		}
	}

	return creds, nil
}

func (r *Resolver) save(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
