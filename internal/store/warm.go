package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/boltdb/bolt"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
)

var bucketIndicators = []byte("indicators")

// warmDoc is the shape indexed into bleve alongside the bolt record. The
// document ID is the indicator's natural key, so index hits resolve straight
// back to bolt.
type warmDoc struct {
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Status     string    `json:"status"`
	Tags       []string  `json:"tags"`
	Sources    []string  `json:"sources"`
	Confidence float64   `json:"confidence"`
	LastSeen   time.Time `json:"last_seen"`
}

// Warm is the durable tier: bolt holds the authoritative records, bleve
// indexes them for range queries by time and by tag. An indicator is not
// considered stored until its bolt transaction has committed.
type Warm struct {
	db  *bolt.DB
	idx bleve.Index
}

// OpenWarm opens (or creates) the warm tier under dir.
func OpenWarm(dir string) (*Warm, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("warm tier dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "indicators.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndicators)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	idxPath := filepath.Join(dir, "index.bleve")
	idx, err := bleve.Open(idxPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(idxPath, warmIndexMapping())
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &Warm{db: db, idx: idx}, nil
}

func warmIndexMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()
	numeric := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("type", keyword)
	doc.AddFieldMappingsAt("value", keyword)
	doc.AddFieldMappingsAt("status", keyword)
	doc.AddFieldMappingsAt("tags", keyword)
	doc.AddFieldMappingsAt("sources", keyword)
	doc.AddFieldMappingsAt("confidence", numeric)
	doc.AddFieldMappingsAt("last_seen", date)

	im := bleve.NewIndexMapping()
	im.AddDocumentMapping("indicator", doc)
	im.DefaultType = "indicator"
	return im
}

// Put durably stores the indicator and refreshes its index entry.
func (w *Warm) Put(ind indicator.Indicator) error {
	data, err := json.Marshal(ind)
	if err != nil {
		return fmt.Errorf("marshal indicator: %w", err)
	}
	key := ind.Key()
	if err := w.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndicators).Put([]byte(key), data)
	}); err != nil {
		quality.WarmErrors.Inc()
		return fmt.Errorf("%w: bolt put: %v", ErrStoreUnavailable, err)
	}
	doc := warmDoc{
		Type:       string(ind.Type),
		Value:      ind.Value,
		Status:     string(ind.Status),
		Tags:       ind.Tags,
		Sources:    ind.Sources,
		Confidence: ind.Confidence,
		LastSeen:   ind.LastSeen,
	}
	if err := w.idx.Index(key, doc); err != nil {
		// The record is durable; a stale index entry only affects range
		// queries and will be corrected on the next Put.
		quality.WarmErrors.Inc()
	}
	return nil
}

// Get returns the indicator stored under key.
func (w *Warm) Get(key string) (indicator.Indicator, bool, error) {
	var ind indicator.Indicator
	var found bool
	err := w.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIndicators).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &ind)
	})
	if err != nil {
		quality.WarmErrors.Inc()
		return indicator.Indicator{}, false, fmt.Errorf("%w: bolt get: %v", ErrStoreUnavailable, err)
	}
	return ind, found, nil
}

// Delete removes the record and its index entry.
func (w *Warm) Delete(key string) error {
	if err := w.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndicators).Delete([]byte(key))
	}); err != nil {
		quality.WarmErrors.Inc()
		return fmt.Errorf("%w: bolt delete: %v", ErrStoreUnavailable, err)
	}
	if err := w.idx.Delete(key); err != nil {
		quality.WarmErrors.Inc()
	}
	return nil
}

// ForEach streams every stored indicator to fn, checking for cancellation
// every chunk of records. Returning an error from fn stops the scan.
func (w *Warm) ForEach(ctx context.Context, fn func(indicator.Indicator) error) error {
	const chunk = 256
	return w.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIndicators).Cursor()
		n := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			n++
			if n%chunk == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			var ind indicator.Indicator
			if err := json.Unmarshal(v, &ind); err != nil {
				continue
			}
			if err := fn(ind); err != nil {
				return err
			}
		}
		return nil
	})
}

// QueryByTag returns up to limit indicators carrying the tag.
func (w *Warm) QueryByTag(tag string, limit int) ([]indicator.Indicator, error) {
	q := bleve.NewTermQuery(tag)
	q.SetField("tags")
	return w.search(bleve.NewSearchRequestOptions(q, limit, 0, false))
}

// QueryByTimeRange returns up to limit indicators whose lastSeen falls in
// [start, end).
func (w *Warm) QueryByTimeRange(start, end time.Time, limit int) ([]indicator.Indicator, error) {
	q := bleve.NewDateRangeQuery(start, end)
	q.SetField("last_seen")
	return w.search(bleve.NewSearchRequestOptions(q, limit, 0, false))
}

func (w *Warm) search(req *bleve.SearchRequest) ([]indicator.Indicator, error) {
	res, err := w.idx.Search(req)
	if err != nil {
		quality.WarmErrors.Inc()
		return nil, fmt.Errorf("%w: bleve search: %v", ErrStoreUnavailable, err)
	}
	out := make([]indicator.Indicator, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ind, found, err := w.Get(hit.ID)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, ind)
		}
	}
	return out, nil
}

// Count returns the number of stored indicators.
func (w *Warm) Count() (int, error) {
	n := 0
	err := w.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketIndicators).Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases bolt and bleve resources.
func (w *Warm) Close() error {
	idxErr := w.idx.Close()
	dbErr := w.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return idxErr
}
