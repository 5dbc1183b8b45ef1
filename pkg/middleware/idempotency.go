package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/utils"

	"github.com/google/uuid"
)

const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 128
)

type idempotencyEntry struct {
	bodyHash [sha256.Size]byte
	done     bool
	status   int
	header   http.Header
	body     []byte
	expires  time.Time
}

// IdempotencyStore 保存 (principal, route, key) 的首个响应
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewIdempotencyStore 创建存储；ctx 结束时停止后台清理
func NewIdempotencyStore(ctx context.Context, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &IdempotencyStore{
		entries: make(map[string]*idempotencyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
	return s
}

func (s *IdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if e.done && now.After(e.expires) {
			delete(s.entries, k)
		}
	}
}

// Len 返回当前保存的条目数
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// normalizeKey 规范化 UUID 形式的键，其它形式原样保留
func normalizeKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

// captureWriter 边写边记录响应
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}

// Idempotency 对带 Idempotency-Key 的变更请求做去重：
// 完成的响应在 TTL 内原样重放，处理中的重复请求返回409，
// 同一键携带不同请求体返回422。5xx 响应不保存，允许重试。
func Idempotency(store *IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(IdempotencyKeyHeader)
			if raw == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			key := normalizeKey(raw)
			if key == "" || len(key) > maxIdempotencyKeyLen {
				utils.WriteFlatError(w, http.StatusBadRequest, "Invalid Idempotency-Key header")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				utils.WriteFlatError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := sha256.Sum256(body)

			principal := getClientIP(r)
			if user, ok := GetUserFromContext(r.Context()); ok && user != nil {
				principal = "user:" + user.ID
			}
			storeKey := principal + "|" + r.Method + " " + r.URL.Path + "|" + key

			store.mu.Lock()
			now := store.now()
			if e, ok := store.entries[storeKey]; ok && (!e.done || now.Before(e.expires)) {
				store.mu.Unlock()
				switch {
				case e.bodyHash != hash:
					utils.WriteFlatError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
				case !e.done:
					utils.WriteFlatError(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
				default:
					logging.FromContext(r.Context()).Info("replaying idempotent response", "status", e.status)
					for k, vs := range e.header {
						for _, v := range vs {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set(IdempotentReplayedHeader, "true")
					w.WriteHeader(e.status)
					_, _ = w.Write(e.body)
				}
				return
			}
			entry := &idempotencyEntry{bodyHash: hash}
			store.entries[storeKey] = entry
			store.mu.Unlock()

			cw := &captureWriter{ResponseWriter: w}
			completed := false
			defer func() {
				store.mu.Lock()
				defer store.mu.Unlock()
				if !completed || cw.status == 0 || cw.status >= 500 {
					delete(store.entries, storeKey)
					return
				}
				entry.done = true
				entry.status = cw.status
				entry.header = cw.Header().Clone()
				// 传输层头由外层中间件（压缩等）重新生成
				for _, h := range []string{"Content-Encoding", "Content-Length", "Vary"} {
					entry.header.Del(h)
				}
				entry.body = cw.buf.Bytes()
				entry.expires = store.now().Add(store.ttl)
			}()
			next.ServeHTTP(cw, r)
			completed = true
		})
	}
}
