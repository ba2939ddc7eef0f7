package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/sunr3d/site-mover/models"
)

type sumCheck struct {
	h hash.Hash
}

func corrupt(err error) error {
	if errors.Is(err, ErrPayloadCorrupted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
}

// callbackError marks errors returned by a table consumer so they are passed
// through unchanged.
type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }
func (e callbackError) Unwrap() error { return e.err }

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return corrupt(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return corrupt(fmt.Errorf("ожидался %q, получено %v", want, tok))
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", corrupt(err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", corrupt(fmt.Errorf("ожидался ключ, получено %v", tok))
	}
	return key, nil
}

// skipValue consumes one JSON value without materializing it.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return corrupt(err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("лишние данные после объекта")
		}
		return corrupt(err)
	}
	return nil
}

func topLevelKeys(dec *json.Decoder, wanted ...string) (map[string]bool, error) {
	found := make(map[string]bool, len(wanted))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		for _, w := range wanted {
			if w == key {
				found[key] = true
				return found, nil
			}
		}
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// decodeInfo stops as soon as the site metadata is known, which for archives
// written by Writer is before the database section.
func decodeInfo(ctx context.Context, dec *json.Decoder) (models.PayloadInfo, error) {
	var info models.PayloadInfo
	if err := expectDelim(dec, '{'); err != nil {
		return info, err
	}

	seen := 0
	for dec.More() && seen < 3 {
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		default:
		}

		key, err := readKey(dec)
		if err != nil {
			return info, err
		}
		switch key {
		case "site_url":
			err = dec.Decode(&info.SiteURL)
			seen++
		case "home_url":
			err = dec.Decode(&info.HomeURL)
			seen++
		case "paths":
			err = dec.Decode(&info.Paths)
			seen++
		default:
			err = skipValue(dec)
		}
		if err != nil {
			return info, corrupt(err)
		}
	}
	return info, nil
}

// decodeFullPayload walks a full-site payload. With collect set, rows of one
// table are accumulated and handed to fn before the next table is read.
func decodeFullPayload(ctx context.Context, dec *json.Decoder, collect bool, fn func(models.TableDump) error) (models.PayloadInfo, models.PayloadStats, error) {
	var (
		info        models.PayloadInfo
		stats       models.PayloadStats
		sawDatabase bool
	)

	if err := expectDelim(dec, '{'); err != nil {
		return info, stats, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return info, stats, err
		}
		switch key {
		case "site_url":
			err = corruptIf(dec.Decode(&info.SiteURL))
		case "home_url":
			err = corruptIf(dec.Decode(&info.HomeURL))
		case "paths":
			err = corruptIf(dec.Decode(&info.Paths))
		case "database":
			sawDatabase = true
			err = decodeDatabase(ctx, dec, collect, &stats, fn)
		default:
			err = skipValue(dec)
		}
		if err != nil {
			var cb callbackError
			if errors.As(err, &cb) {
				return info, stats, cb.err
			}
			return info, stats, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return info, stats, err
	}
	if !sawDatabase {
		return info, stats, corrupt(errors.New("нет раздела database"))
	}
	return info, stats, nil
}

func corruptIf(err error) error {
	if err == nil {
		return nil
	}
	return corrupt(err)
}

func decodeDatabase(ctx context.Context, dec *json.Decoder, collect bool, stats *models.PayloadStats, fn func(models.TableDump) error) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return err
		}
		if key != "tables" {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			name, err := readKey(dec)
			if err != nil {
				return err
			}
			table, rows, err := decodeTable(dec, name, collect)
			if err != nil {
				return err
			}
			stats.Tables++
			stats.Rows += rows

			if fn != nil {
				if err := fn(table); err != nil {
					return callbackError{err}
				}
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func decodeTable(dec *json.Decoder, name string, collect bool) (models.TableDump, int, error) {
	table := models.TableDump{Name: name}
	rows := 0

	if err := expectDelim(dec, '{'); err != nil {
		return table, 0, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return table, rows, err
		}
		switch key {
		case "columns":
			if err := dec.Decode(&table.Columns); err != nil {
				return table, rows, corrupt(fmt.Errorf("таблица %s: %v", name, err))
			}
		case "rows":
			if err := expectDelim(dec, '['); err != nil {
				return table, rows, err
			}
			for dec.More() {
				var row models.Row
				if err := dec.Decode(&row); err != nil {
					return table, rows, corrupt(fmt.Errorf("таблица %s, строка %d: %v", name, rows, err))
				}
				if row == nil {
					return table, rows, corrupt(fmt.Errorf("таблица %s, строка %d: null", name, rows))
				}
				if collect {
					table.Rows = append(table.Rows, row)
				}
				rows++
			}
			if err := expectDelim(dec, ']'); err != nil {
				return table, rows, err
			}
		default:
			if err := skipValue(dec); err != nil {
				return table, rows, err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return table, rows, err
	}
	if collect && table.Rows == nil {
		table.Rows = []models.Row{}
	}
	return table, rows, nil
}
