package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"texcache/internal/decoder"
	"texcache/internal/logging"
)

// Stats describes store usage.
type Stats struct {
	Entries         int   `json:"entries"`
	TotalBytes      int64 `json:"total_bytes"`
	CompressedBytes int64 `json:"compressed_bytes"`
	MaxBytes        int64 `json:"max_bytes"`
}

// Key returns the entry key for a resolved locator.
func Key(locator string) digest.Digest {
	return digest.FromString(locator)
}

// Get returns the stored image for locator. The boolean is false on a miss.
func (s *Store) Get(ctx context.Context, locator string) (*decoder.Image, bool, error) {
	if s == nil {
		return nil, false, nil
	}
	key := Key(locator)
	var (
		format     string
		width      int
		height     int
		pixDigest  string
		compressed []byte
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT format, width, height, pix_digest, pixels FROM decoded_images WHERE key = ?`,
			key.String(),
		).Scan(&format, &width, &height, &pixDigest, &compressed)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", key, err)
	}

	pix, err := s.verify(compressed, pixDigest, width*height*4)
	if err != nil {
		logging.WarnWithContext(s.logger, "dropping corrupt decoded image", "store_entry_corrupt",
			logging.Locator(locator),
			logging.String(logging.FieldErrorHint, "entry is decoded again on the next request"),
			logging.String(logging.FieldImpact, "one extra fetch and decode"),
			logging.Error(err),
		)
		if delErr := s.exec(ctx, `DELETE FROM decoded_images WHERE key = ?`, key.String()); delErr != nil {
			return nil, false, fmt.Errorf("store: drop corrupt entry: %w", delErr)
		}
		return nil, false, nil
	}

	if err := s.exec(ctx, `UPDATE decoded_images SET accessed_at = ? WHERE key = ?`,
		s.now().UnixNano(), key.String()); err != nil {
		return nil, false, fmt.Errorf("store: touch %s: %w", key, err)
	}
	return &decoder.Image{
		Width:      width,
		Height:     height,
		Format:     decoder.Format(format),
		Pix:        pix,
		RenderInfo: map[string]any{"format": format, "cached": true},
	}, true, nil
}

func (s *Store) verify(compressed []byte, pixDigest string, want int) ([]byte, error) {
	expected, err := digest.Parse(pixDigest)
	if err != nil {
		return nil, err
	}
	pix, err := s.dec.DecodeAll(compressed, make([]byte, 0, want))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if len(pix) != want {
		return nil, fmt.Errorf("pixel length %d, want %d", len(pix), want)
	}
	verifier := expected.Verifier()
	_, _ = verifier.Write(pix)
	if !verifier.Verified() {
		return nil, fmt.Errorf("digest mismatch for %s", expected)
	}
	return pix, nil
}

// Put stores img under locator, replacing any previous entry, then prunes.
func (s *Store) Put(ctx context.Context, locator string, img *decoder.Image) error {
	if s == nil || img == nil {
		return nil
	}
	if len(img.Pix) != img.Width*img.Height*4 {
		return fmt.Errorf("store: image for %s has %d bytes, want %d", locator, len(img.Pix), img.Width*img.Height*4)
	}
	key := Key(locator)
	compressed := s.enc.EncodeAll(img.Pix, nil)
	now := s.now().UnixNano()
	err := s.exec(ctx, `INSERT INTO decoded_images
		(key, locator, format, width, height, pix_digest, pixels, size_bytes, stored_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			format = excluded.format, width = excluded.width, height = excluded.height,
			pix_digest = excluded.pix_digest, pixels = excluded.pixels,
			size_bytes = excluded.size_bytes, stored_at = excluded.stored_at,
			accessed_at = excluded.accessed_at`,
		key.String(), locator, string(img.Format), img.Width, img.Height,
		digest.FromBytes(img.Pix).String(), compressed, int64(len(img.Pix)), now, now,
	)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return s.Prune(ctx)
}

// Prune removes least recently used entries until the total decoded size is
// within the configured limit.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.maxBytes <= 0 {
		return nil
	}
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM decoded_images`).Scan(&total); err != nil {
		return fmt.Errorf("store: sum sizes: %w", err)
	}
	if total <= s.maxBytes {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size_bytes FROM decoded_images ORDER BY accessed_at ASC, rowid ASC`)
	if err != nil {
		return fmt.Errorf("store: list entries: %w", err)
	}
	var victims []string
	for rows.Next() && total > s.maxBytes {
		var (
			key  string
			size int64
		)
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, key)
		total -= size
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, key := range victims {
		if err := s.exec(ctx, `DELETE FROM decoded_images WHERE key = ?`, key); err != nil {
			return fmt.Errorf("store: prune %s: %w", key, err)
		}
	}
	if len(victims) > 0 {
		s.logger.Debug("pruned decoded images",
			logging.Int("removed", len(victims)),
			logging.Int64("total_bytes", total),
			logging.Int64("max_bytes", s.maxBytes),
		)
	}
	return nil
}

// Stats reports entry count and sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s == nil {
		return Stats{}, nil
	}
	st := Stats{MaxBytes: s.maxBytes}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(LENGTH(pixels)), 0) FROM decoded_images`,
	).Scan(&st.Entries, &st.TotalBytes, &st.CompressedBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}
