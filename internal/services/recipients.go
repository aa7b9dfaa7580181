package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"commentry/internal/utils"
)

const recipientTTL = 10 * time.Minute

// RecipientResolver expands an admin recipient specification into addresses.
// Entries are separated by commas or newlines and may be:
//
//	ada@example.com         literal address
//	field:<name>            field of the commented page
//	user:<username>         email of a user account
//	<pageRefOrId>:<field>   field of another page (id or path)
type RecipientResolver struct {
	dir   Directory
	cache *utils.TTLCache[[]string]
}

func NewRecipientResolver(dir Directory, cache *utils.TTLCache[[]string]) *RecipientResolver {
	if cache == nil {
		cache = utils.NewTTLCache[[]string](256)
	}
	return &RecipientResolver{dir: dir, cache: cache}
}

// Resolve returns the distinct addresses of spec. Malformed entries are logged
// and skipped; the returned error joins them with ErrConfiguration so callers
// may report it, but the usable addresses are always returned.
func (r *RecipientResolver) Resolve(ctx context.Context, spec string, pageID uint) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	key := fmt.Sprintf("%d|%s", pageID, spec)
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	seen := make(map[string]bool)
	var out []string
	var firstErr error
	add := func(raw string) {
		for _, part := range splitSpec(raw) {
			if email := utils.CleanEmail(part); email != "" && !seen[email] {
				seen[email] = true
				out = append(out, email)
			}
		}
	}

	for _, entry := range splitSpec(spec) {
		value, err := r.resolveEntry(ctx, entry, pageID)
		if err != nil {
			log.Printf("[comments] recipient %q skipped: %v", entry, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: recipient %q: %v", ErrConfiguration, entry, err)
			}
			continue
		}
		add(value)
	}

	// 只缓存完全成功的解析结果
	if firstErr == nil {
		r.cache.Set(key, out, recipientTTL)
	}
	return out, firstErr
}

func (r *RecipientResolver) resolveEntry(ctx context.Context, entry string, pageID uint) (string, error) {
	if utils.CleanEmail(entry) != "" {
		return entry, nil
	}
	if r.dir == nil {
		return "", fmt.Errorf("no directory configured")
	}
	switch {
	case strings.HasPrefix(entry, "field:"):
		name := strings.TrimSpace(strings.TrimPrefix(entry, "field:"))
		if name == "" || pageID == 0 {
			return "", fmt.Errorf("empty field name")
		}
		return r.dir.PageField(ctx, strconv.FormatUint(uint64(pageID), 10), name)
	case strings.HasPrefix(entry, "user:"):
		name := strings.TrimSpace(strings.TrimPrefix(entry, "user:"))
		if name == "" {
			return "", fmt.Errorf("empty username")
		}
		return r.dir.UserEmail(ctx, name)
	}
	idx := strings.LastIndex(entry, ":")
	if idx <= 0 || idx == len(entry)-1 {
		return "", fmt.Errorf("unrecognized recipient")
	}
	return r.dir.PageField(ctx, strings.TrimSpace(entry[:idx]), strings.TrimSpace(entry[idx+1:]))
}

func splitSpec(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ';'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
