package storage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/nightcall/nightcall/client"
	"github.com/nightcall/nightcall/services/httpd"
	bolt "go.etcd.io/bbolt"
)

const (
	storagePath            = "/storage"
	backupPath             = storagePath + "/backup"
	storesPath             = storagePath + "/stores"
	storesPathAnchored     = storesPath + "/"
	storesBasePath         = httpd.BasePath + storesPath
	storesBasePathAnchored = httpd.BasePath + storesPathAnchored
)

// APIServer exposes the maintenance endpoints of the storage layer:
// listing registered stores, running store actions and streaming a
// backup of the database file.
type APIServer struct {
	Registrar *StoreRegistry
	DB        *bolt.DB
	routes    []httpd.Route
	diag      Diagnostic

	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}
}

func (s *APIServer) Open() error {
	s.routes = []httpd.Route{
		{
			Method:      "GET",
			Pattern:     backupPath,
			HandlerFunc: s.handleBackup,
			// Backups are streamed uncompressed so Content-Length
			// states the exact database size.
			NoGzip: true,
			NoJSON: true,
		},
		{
			Method:      "GET",
			Pattern:     storesPath,
			HandlerFunc: s.handleListStores,
		},
		{
			Method:      "POST",
			Pattern:     storesPathAnchored,
			HandlerFunc: s.handleStoreAction,
		},
	}
	return s.HTTPDService.AddRoutes(s.routes)
}

func (s *APIServer) Close() error {
	s.HTTPDService.DelRoutes(s.routes)
	return nil
}

// handleBackup streams a consistent snapshot of the bolt file. The
// snapshot is taken inside a read transaction so writers are not
// blocked for longer than the transfer.
func (s *APIServer) handleBackup(w http.ResponseWriter, r *http.Request) {
	err := s.DB.View(func(tx *bolt.Tx) error {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="nightcall.db"`)
		w.Header().Set("Content-Length", strconv.FormatInt(tx.Size(), 10))
		w.WriteHeader(http.StatusOK)
		_, err := tx.WriteTo(w)
		return err
	})
	if err != nil {
		// The headers are already written so the error can only be
		// logged. Clients detect a truncated backup by comparing the
		// received byte count against Content-Length.
		s.diag.Error("failed to send backup data", err)
	}
}

func (s *APIServer) handleListStores(w http.ResponseWriter, r *http.Request) {
	names := s.Registrar.List()
	list := client.StorageList{
		Link:    client.Link{Relation: client.Self, Href: storesBasePath},
		Storage: make([]client.Storage, 0, len(names)),
	}
	for _, name := range names {
		list.Storage = append(list.Storage, client.Storage{
			Link: client.Link{Relation: client.Self, Href: path.Join(storesBasePath, name)},
			Name: name,
		})
	}
	w.WriteHeader(http.StatusOK)
	w.Write(httpd.MarshalJSON(list, true))
}

func (s *APIServer) handleStoreAction(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, storesBasePathAnchored)
	store, ok := s.Registrar.Get(name)
	if !ok {
		httpd.HttpError(w, fmt.Sprintf("unknown storage %q", name), true, http.StatusNotFound)
		return
	}

	var action client.StorageActionOptions
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		httpd.HttpError(w, fmt.Sprintf("invalid storage action body: %v", err), true, http.StatusBadRequest)
		return
	}

	switch action.Action {
	case client.StorageRebuild:
		if err := store.Rebuild(); err != nil {
			httpd.HttpError(w, fmt.Sprintf("failed to rebuild %q: %v", name, err), true, http.StatusInternalServerError)
			return
		}
	default:
		httpd.HttpError(w, fmt.Sprintf("unknown storage action %q", action.Action), true, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
