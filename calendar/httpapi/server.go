// Package httpapi implements the thin HTTP/RPC adapter: a
// request router in front of the Aggregator, CalendarStore, and Stamper,
// with no state of its own.
//
// Grounded on networks/rpc/http.go's httprouter-based mux
// (julienschmidt/httprouter) and rs/cors for the
// permissive cross-origin policy a public calendar endpoint needs.
package httpapi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	calendarroot "github.com/klaytn/ots-calendar/calendar"
	"github.com/klaytn/ots-calendar/calendar/backup"
	"github.com/klaytn/ots-calendar/calendar/store"
	"github.com/klaytn/ots-calendar/calendar/stamper"
	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/ots"
)

var logger = calendarlog.NewModuleLogger(calendarlog.HTTPServer)

// maxDigestLen caps the submitted digest body at 64 opaque bytes.
const maxDigestLen = 64

// Aggregator is the subset of aggregator.Aggregator the HTTP layer drives.
type Aggregator interface {
	Submit(message []byte) (*ots.Timestamp, error)
}

// Store is the subset of store.Store the HTTP layer reads.
type Store interface {
	Get(message []byte) (*ots.Timestamp, error)
}

// Stamper is the subset of stamper.Stamper the HTTP layer queries.
type Stamper interface {
	IsPending(commitment []byte) stamper.Status
	Tip() ([]byte, bool)
}

// Backup is the subset of backup.Producer the HTTP layer serves.
type Backup interface {
	GetChunk(k uint64) ([]byte, error)
}

// Server wires the four endpoints to a Handler.
type Server struct {
	Aggregator       Aggregator
	Store            Store
	Stamper          Stamper
	Backup           Backup
	MinConfirmations uint64
}

// Handler returns the fully wired, CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.POST("/digest", s.postDigest)
	r.GET("/timestamp/:hex", s.getTimestamp)
	r.GET("/tip", s.getTip)
	r.GET("/experimental/backup/:n", s.getBackupChunk)

	return cors.AllowAll().Handler(r)
}

func (s *Server) postDigest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := readLimited(r, maxDigestLen)
	if err != nil {
		calendarroot.RecordDigestRejected()
		writeText(w, http.StatusBadRequest, "digest too long", 0)
		return
	}

	ts, err := s.Aggregator.Submit(body)
	if err != nil {
		calendarroot.RecordDigestRejected()
		logger.Error("digest submission failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	calendarroot.RecordDigestAccepted()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(ots.SerializeTree(ts))
}

func (s *Server) getTimestamp(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	digest, err := hex.DecodeString(ps.ByName("hex"))
	if err != nil {
		writeText(w, http.StatusBadRequest, "malformed hex", 0)
		return
	}

	if ts, err := s.Store.Get(digest); err == nil {
		w.Header().Set("Content-Type", "application/octet-stream")
		if ts.HasAttestation(ots.TagBitcoinBlockHeader) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		w.WriteHeader(http.StatusOK)
		w.Write(ots.SerializeTree(ts))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Error("calendar store lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := s.Stamper.IsPending(digest)
	switch {
	case status.Pending:
		writeText(w, http.StatusNotFound, "Pending confirmation in Bitcoin blockchain", 60)
	case status.Confirming:
		msg := fmt.Sprintf("Timestamped by transaction %s; waiting for %d confirmations", status.TxID, s.MinConfirmations)
		writeText(w, http.StatusNotFound, msg, 60)
	default:
		writeText(w, http.StatusNotFound, "Not found", 60)
	}
}

func (s *Server) getTip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tip, ok := s.Stamper.Tip()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(tip)
}

func (s *Server) getBackupChunk(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var k uint64
	if _, err := fmt.Sscanf(ps.ByName("n"), "%d", &k); err != nil {
		writeText(w, http.StatusBadRequest, "malformed chunk index", 0)
		return
	}

	data, err := s.Backup.GetChunk(k)
	if errors.Is(err, backup.ErrNotFound) {
		writeText(w, http.StatusNotFound, "chunk not yet available", 60)
		return
	}
	if err != nil {
		logger.Error("chunk fetch failed", "chunk", k, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func readLimited(r *http.Request, limit int64) ([]byte, error) {
	body, err := ioutil.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("httpapi: body exceeds %d bytes", limit)
	}
	return body, nil
}

func writeText(w http.ResponseWriter, status int, msg string, cacheSeconds int) {
	if cacheSeconds > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", cacheSeconds))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}
