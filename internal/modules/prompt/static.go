// README: Static context tier, assembled once per conversation and cached by content fingerprint.
package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roam/internal/modules/tools"
	"roam/internal/types"
)

// Static is the assembled static tier. Handle is an opaque provider-side cache
// reference (a Gemini cached content name) when one exists.
type Static struct {
	Text        string `json:"text"`
	Fingerprint string `json:"fingerprint"`
	Handle      string `json:"handle,omitempty"`
}

// BuildStatic renders the persona and tool list. Identical inputs give identical text.
func BuildStatic(p Persona, contracts []tools.Contract) Static {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a car-rental booking concierge.\n", p.Name)
	if p.Voice != "" {
		fmt.Fprintf(&b, "Voice: %s\n", strings.TrimSpace(p.Voice))
	}
	if p.Locale != "" {
		fmt.Fprintf(&b, "Default locale: %s\n", p.Locale)
	}

	b.WriteString("\n## Rules\n")
	for i, r := range p.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}

	if len(contracts) > 0 {
		b.WriteString("\n## Tools\n")
		for _, c := range contracts {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		}
	}

	if len(p.Examples) > 0 {
		b.WriteString("\n## Examples\n")
		for _, ex := range p.Examples {
			fmt.Fprintf(&b, "Traveler: %s\nYou: %s\n\n", ex.User, ex.Output)
		}
	}

	b.WriteString("\n## Output schema\n")
	b.WriteString(strings.TrimSpace(p.OutputSchema))
	b.WriteString("\n")

	writeGuardrails(&b, p.Guardrails)

	text := b.String()
	return Static{Text: text, Fingerprint: Fingerprint(text)}
}

func writeGuardrails(b *strings.Builder, rails []string) {
	b.WriteString("\n## Hard rules\n")
	for _, g := range rails {
		fmt.Fprintf(b, "- %s\n", g)
	}
}

// Fingerprint is a short content hash used in cache keys.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// Cache stores assembled static tiers.
type Cache interface {
	Get(ctx context.Context, key string) (Static, bool, error)
	Set(ctx context.Context, key string, s Static) error
}

const staticKeyPrefix = "roam:prompt:%s:%s"

func cacheKey(conversationID types.ID, fingerprint string) string {
	return fmt.Sprintf(staticKeyPrefix, conversationID, fingerprint)
}

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Static, bool, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Static{}, false, nil
	}
	if err != nil {
		return Static{}, false, err
	}
	var s Static
	if err := json.Unmarshal(raw, &s); err != nil {
		return Static{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, s Static) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, raw, c.ttl).Err()
}

type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]Static
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]Static{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Static, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[key]
	return s, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, s Static) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = s
	return nil
}

// Assembler builds both context tiers for a turn.
type Assembler struct {
	persona Persona
	static  Static
	cache   Cache
	log     *zap.Logger
}

// NewAssembler precomputes the static tier. A nil cache disables caching.
func NewAssembler(p Persona, contracts []tools.Contract, cache Cache, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{persona: p, static: BuildStatic(p, contracts), cache: cache, log: log}
}

func (a *Assembler) Persona() Persona {
	return a.persona
}

// Static returns the conversation's static tier, reusing a cached copy (and its handle)
// when the fingerprint still matches. Cache failures degrade to the freshly built tier.
func (a *Assembler) Static(ctx context.Context, conversationID types.ID) Static {
	if a.cache == nil {
		return a.static
	}
	key := cacheKey(conversationID, a.static.Fingerprint)
	cached, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.log.Warn("static context cache read failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
		return a.static
	}
	if ok && cached.Fingerprint == a.static.Fingerprint {
		return cached
	}
	if err := a.cache.Set(ctx, key, a.static); err != nil {
		a.log.Warn("static context cache write failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
	}
	return a.static
}

// RememberHandle records a provider cache handle for later turns. An empty handle
// forgets an expired one.
func (a *Assembler) RememberHandle(ctx context.Context, conversationID types.ID, s Static, handle string) {
	if a.cache == nil || handle == s.Handle {
		return
	}
	s.Handle = handle
	if err := a.cache.Set(ctx, cacheKey(conversationID, s.Fingerprint), s); err != nil {
		a.log.Warn("static context handle write failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
	}
}
