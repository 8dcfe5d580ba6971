package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lysyi3m/cast-comb/app/model"
)

const (
	rootBucket = "castcomb"

	versionPath   = "version"
	feedPrefix    = "feed/"
	feedPath      = "feed/%s"
	episodePrefix = "episode/%s/"
	episodePath   = "episode/%s/%s" // FeedID + EpisodeID
	historyPrefix = "history/"
	historyPath   = "history/%s"         // HistoryID (timestamp-uuid)
	historyByFeed = "history_feed/%s/%s" // FeedID + HistoryID
)

// Bolt is the bbolt-backed implementation of Storage. All records live in a
// single bucket keyed by versioned paths so the format can evolve.
type Bolt struct {
	db *bolt.DB
}

var _ Storage = (*Bolt)(nil)

// NewBolt opens (creating if necessary) the database under the given directory.
func NewBolt(config *Config) (*Bolt, error) {
	dir := config.Dir

	slog.Info("Opening database", "dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "castcomb.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &Bolt{db: db}

	if err := db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		if err := storage.setObj(bucket, storage.getKey(versionPath), CurrentVersion, false); err != nil && err != model.ErrAlreadyExists {
			return err
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return storage, nil
}

func (b *Bolt) Close() error {
	slog.Debug("Closing database")
	return b.db.Close()
}

func (b *Bolt) Version() (int, error) {
	version := -1

	err := b.db.View(func(tx *bolt.Tx) error {
		return b.getObj(tx.Bucket([]byte(rootBucket)), b.getKey(versionPath), &version)
	})

	return version, err
}

func (b *Bolt) AddFeed(_ context.Context, feedID string, feed *model.Feed) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		// Insert or update feed info
		feedKey := b.getKey(feedPath, feedID)
		if err := b.setObj(bucket, feedKey, feed, true); err != nil {
			return err
		}

		// Append new episodes, existing records are left untouched
		for _, episode := range feed.Episodes {
			episodeKey := b.getKey(episodePath, feedID, episode.ID)
			err := b.setObj(bucket, episodeKey, episode, false)
			if err == nil || err == model.ErrAlreadyExists {
				continue
			}
			return fmt.Errorf("failed to save episode %q: %w", episode.ID, err)
		}

		return nil
	})
}

func (b *Bolt) GetFeed(_ context.Context, feedID string) (*model.Feed, error) {
	var (
		feed    = model.Feed{}
		feedKey = b.getKey(feedPath, feedID)
	)

	if err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		if err := b.getObj(bucket, feedKey, &feed); err != nil {
			return err
		}

		feed.ID = feedID

		return b.walkEpisodes(bucket, feedID, func(episode *model.Episode) error {
			feed.Episodes = append(feed.Episodes, episode)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	return &feed, nil
}

func (b *Bolt) WalkFeeds(_ context.Context, cb func(feed *model.Feed) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))
		prefix := b.getKey(feedPrefix)

		return b.forEachPrefix(bucket, prefix, func(k, v []byte) error {
			feed := &model.Feed{}
			if err := json.Unmarshal(v, feed); err != nil {
				return fmt.Errorf("failed to unmarshal feed: %w", err)
			}

			// Extract feed ID from the key
			if len(k) > len(prefix) {
				feed.ID = string(k[len(prefix):])
			}

			return cb(feed)
		})
	})
}

func (b *Bolt) DeleteFeed(_ context.Context, feedID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		feedKey := b.getKey(feedPath, feedID)
		if err := bucket.Delete(feedKey); err != nil {
			return fmt.Errorf("failed to delete feed %q: %w", feedID, err)
		}

		// Collect episode keys first, then delete: mutating a bucket
		// invalidates the cursor position.
		var keys [][]byte
		if err := b.forEachPrefix(bucket, b.getKey(episodePrefix, feedID), func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return fmt.Errorf("failed to iterate episodes for feed %q: %w", feedID, err)
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete episode key %q: %w", k, err)
			}
		}

		return nil
	})
}

func (b *Bolt) GetEpisode(_ context.Context, feedID string, episodeID string) (*model.Episode, error) {
	var (
		episode model.Episode
		key     = b.getKey(episodePath, feedID, episodeID)
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		return b.getObj(tx.Bucket([]byte(rootBucket)), key, &episode)
	})
	if err != nil {
		return nil, err
	}

	return &episode, nil
}

func (b *Bolt) UpdateEpisode(feedID string, episodeID string, cb func(episode *model.Episode) error) error {
	var (
		key     = b.getKey(episodePath, feedID, episodeID)
		episode model.Episode
	)

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		if err := b.getObj(bucket, key, &episode); err != nil {
			return err
		}

		if err := cb(&episode); err != nil {
			return err
		}

		if episode.ID != episodeID {
			return fmt.Errorf("can't change episode ID")
		}

		return b.setObj(bucket, key, &episode, true)
	})
}

func (b *Bolt) DeleteEpisode(feedID, episodeID string) error {
	key := b.getKey(episodePath, feedID, episodeID)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(rootBucket)).Delete(key)
	})
}

func (b *Bolt) WalkEpisodes(_ context.Context, feedID string, cb func(episode *model.Episode) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return b.walkEpisodes(tx.Bucket([]byte(rootBucket)), feedID, cb)
	})
}

func (b *Bolt) walkEpisodes(bucket *bolt.Bucket, feedID string, cb func(episode *model.Episode) error) error {
	return b.forEachPrefix(bucket, b.getKey(episodePrefix, feedID), func(_, v []byte) error {
		episode := &model.Episode{}
		if err := json.Unmarshal(v, episode); err != nil {
			return fmt.Errorf("failed to unmarshal episode: %w", err)
		}

		return cb(episode)
	})
}

// History methods

func (b *Bolt) AddHistory(_ context.Context, entry *model.HistoryEntry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		historyKey := b.getKey(historyPath, entry.ID)
		if err := b.setObj(bucket, historyKey, entry, true); err != nil {
			return fmt.Errorf("failed to save history entry: %w", err)
		}

		// Index by feed ID for feed-scoped queries
		if entry.FeedID != "" {
			feedIndexKey := b.getKey(historyByFeed, entry.FeedID, entry.ID)
			if err := bucket.Put(feedIndexKey, []byte(entry.ID)); err != nil {
				return fmt.Errorf("failed to save feed index: %w", err)
			}
		}

		return nil
	})
}

func (b *Bolt) GetHistory(_ context.Context, id string) (*model.HistoryEntry, error) {
	var (
		entry model.HistoryEntry
		key   = b.getKey(historyPath, id)
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		return b.getObj(tx.Bucket([]byte(rootBucket)), key, &entry)
	})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (b *Bolt) ListHistory(_ context.Context, filters model.HistoryFilters, page, pageSize int) ([]*model.HistoryEntry, int, error) {
	var (
		entries []*model.HistoryEntry
		total   int
		skip    = (page - 1) * pageSize
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		var prefix []byte
		if filters.FeedID != "" {
			// Feed-scoped listing goes through the index
			prefix = b.getKey(historyByFeed, filters.FeedID, "")
		} else {
			prefix = b.getKey(historyPrefix)
		}

		// Iterate in reverse order (newest first): history IDs start with the
		// creation timestamp, so lexicographic order is chronological.
		return b.forEachPrefixReverse(bucket, prefix, func(_, v []byte) error {
			entry := &model.HistoryEntry{}

			if filters.FeedID != "" {
				// Dereference the index value
				historyKey := b.getKey(historyPath, string(v))
				if err := b.getObj(bucket, historyKey, entry); err != nil {
					return err
				}
			} else {
				if err := json.Unmarshal(v, entry); err != nil {
					return fmt.Errorf("failed to unmarshal history entry: %w", err)
				}
			}

			if !matchHistoryFilters(entry, &filters) {
				return nil
			}

			total++

			// Skip entries before the current page, stop collecting once the
			// page is full but keep counting the total
			if total <= skip || len(entries) >= pageSize {
				return nil
			}

			entries = append(entries, entry)
			return nil
		})
	})

	return entries, total, err
}

func matchHistoryFilters(entry *model.HistoryEntry, filters *model.HistoryFilters) bool {
	if filters.JobType != "" && entry.JobType != filters.JobType {
		return false
	}
	if filters.Status != "" && entry.Status != filters.Status {
		return false
	}
	if !filters.StartDate.IsZero() && entry.StartTime.Before(filters.StartDate) {
		return false
	}
	if !filters.EndDate.IsZero() && entry.StartTime.After(filters.EndDate) {
		return false
	}
	if filters.Search != "" {
		needle := strings.ToLower(filters.Search)
		if !strings.Contains(strings.ToLower(entry.EpisodeTitle), needle) &&
			!strings.Contains(strings.ToLower(entry.FeedTitle), needle) {
			return false
		}
	}
	return true
}

func (b *Bolt) UpdateHistory(_ context.Context, id string, cb func(entry *model.HistoryEntry) error) error {
	var (
		key   = b.getKey(historyPath, id)
		entry model.HistoryEntry
	)

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		if err := b.getObj(bucket, key, &entry); err != nil {
			return err
		}

		if err := cb(&entry); err != nil {
			return err
		}

		if entry.ID != id {
			return fmt.Errorf("can't change history entry ID")
		}

		return b.setObj(bucket, key, &entry, true)
	})
}

func (b *Bolt) DeleteHistory(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		var entry model.HistoryEntry
		key := b.getKey(historyPath, id)
		if err := b.getObj(bucket, key, &entry); err != nil {
			if err == model.ErrNotFound {
				return nil // Already deleted
			}
			return err
		}

		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to delete history entry: %w", err)
		}

		// Purge the feed index entry as well
		if entry.FeedID != "" {
			feedIndexKey := b.getKey(historyByFeed, entry.FeedID, id)
			if err := bucket.Delete(feedIndexKey); err != nil {
				return fmt.Errorf("failed to delete feed index: %w", err)
			}
		}

		return nil
	})
}

func (b *Bolt) CleanupHistory(ctx context.Context, retentionDays int, maxEntries int) error {
	var (
		entriesToDelete []string
		seen            int
		cutoffTime      = time.Now().AddDate(0, 0, -retentionDays)
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		return b.forEachPrefixReverse(bucket, b.getKey(historyPrefix), func(_, v []byte) error {
			entry := &model.HistoryEntry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("failed to unmarshal history entry: %w", err)
			}

			seen++

			// Special case: delete everything when both limits are 0
			if retentionDays == 0 && maxEntries == 0 {
				entriesToDelete = append(entriesToDelete, entry.ID)
				return nil
			}

			if retentionDays > 0 && entry.StartTime.Before(cutoffTime) {
				entriesToDelete = append(entriesToDelete, entry.ID)
				return nil
			}

			// Entries are visited newest first, so anything past maxEntries
			// is among the oldest
			if maxEntries > 0 && seen > maxEntries {
				entriesToDelete = append(entriesToDelete, entry.ID)
			}

			return nil
		})
	})
	if err != nil {
		return err
	}

	slog.Debug("History cleanup scan finished", "total", seen, "to_delete", len(entriesToDelete))

	for _, id := range entriesToDelete {
		if err := b.DeleteHistory(ctx, id); err != nil {
			return fmt.Errorf("failed to delete history entry %s: %w", id, err)
		}
	}

	return nil
}

func (b *Bolt) GetHistoryStats(_ context.Context) (count int, oldestEntry *model.HistoryEntry, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(rootBucket))

		return b.forEachPrefix(bucket, b.getKey(historyPrefix), func(_, v []byte) error {
			entry := &model.HistoryEntry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("failed to unmarshal history entry: %w", err)
			}

			count++
			if oldestEntry == nil || entry.StartTime.Before(oldestEntry.StartTime) {
				oldestEntry = entry
			}

			return nil
		})
	})

	return count, oldestEntry, err
}

// Internals

func (b *Bolt) getKey(format string, a ...interface{}) []byte {
	resourcePath := fmt.Sprintf(format, a...)
	return []byte(fmt.Sprintf("castcomb/v%d/%s", CurrentVersion, resourcePath))
}

// forEachPrefix walks keys with the given prefix in ascending order. Values
// are only valid for the duration of the callback.
func (b *Bolt) forEachPrefix(bucket *bolt.Bucket, prefix []byte, cb func(k, v []byte) error) error {
	c := bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := cb(k, v); err != nil {
			return err
		}
	}
	return nil
}

// forEachPrefixReverse walks keys with the given prefix in descending order.
// The cursor seeks just past the end of the prefix range (prefix || 0xFF) and
// falls back to the last key when the seek overshoots the bucket.
func (b *Bolt) forEachPrefixReverse(bucket *bolt.Bucket, prefix []byte, cb func(k, v []byte) error) error {
	c := bucket.Cursor()

	seekKey := make([]byte, len(prefix)+1)
	copy(seekKey, prefix)
	seekKey[len(prefix)] = 0xFF

	k, v := c.Seek(seekKey)
	if k == nil {
		k, v = c.Last()
	}

	for ; k != nil; k, v = c.Prev() {
		if !bytes.HasPrefix(k, prefix) {
			// Seek may land on the first key after the range; keep rewinding
			// until the range is entered, then stop once it is left.
			if bytes.Compare(k, prefix) > 0 {
				continue
			}
			break
		}

		if err := cb(k, v); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bolt) setObj(bucket *bolt.Bucket, key []byte, obj interface{}, overwrite bool) error {
	if !overwrite {
		// Overwrites are not allowed, make sure there is no object with the given key
		if bucket.Get(key) != nil {
			return model.ErrAlreadyExists
		}
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to serialize object for key %q: %w", key, err)
	}

	return bucket.Put(key, data)
}

func (b *Bolt) getObj(bucket *bolt.Bucket, key []byte, out interface{}) error {
	// The returned slice is owned by the transaction, decode before returning
	data := bucket.Get(key)
	if data == nil {
		return model.ErrNotFound
	}

	return json.Unmarshal(data, out)
}
