package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Uint64(key string, value uint64) Attr { return slog.Uint64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// SessionID tags records with the server session of one connection.
func SessionID(id string) Attr { return slog.String(FieldSessionID, id) }

// RequestID tags records with a decode request id.
func RequestID(id int64) Attr { return slog.Int64(FieldRequestID, id) }

// SourceID tags records with a texture source id.
func SourceID(id int64) Attr { return slog.Int64(FieldSourceID, id) }

// Locator tags records with the locator being decoded.
func Locator(locator string) Attr { return slog.String(FieldLocator, locator) }
