package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// Instance is the API view of one attached instance.
type Instance struct {
	Handle       string    `json:"handle"`
	SerialNumber uint32    `json:"serial_number"`
	SerialValid  bool      `json:"serial_valid"`
	AttachedAt   time.Time `json:"attached_at"`
}

// InstanceList is the body of GET /api/v1/instances.
type InstanceList struct {
	Instances []Instance `json:"instances"`
	Count     int        `json:"count"`
}

// ChannelStatus is the body of GET /api/v1/channel.
type ChannelStatus struct {
	Active     bool   `json:"active"`
	ChannelID  string `json:"channel_id,omitempty"`
	Instances  int    `json:"instances"`
	SocketPath string `json:"socket_path,omitempty"`
	AliasPath  string `json:"alias_path,omitempty"`
	Exclusive  bool   `json:"exclusive"`
}

func toInstance(rec filter.DeviceRecord) Instance {
	return Instance{
		Handle:       string(rec.Handle),
		SerialNumber: rec.SerialNumber,
		SerialValid:  rec.SerialValid,
		AttachedAt:   rec.AttachedAt.UTC(),
	}
}

// handleListInstances returns every attached instance in attach order.
func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	list := InstanceList{Instances: []Instance{}}
	for rec := range s.registry.Records() {
		list.Instances = append(list.Instances, toInstance(rec))
	}
	list.Count = len(list.Instances)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "handle")
	handle, err := url.PathUnescape(raw)
	if err != nil || handle == "" {
		writeBadRequest(w, "invalid instance handle")
		return
	}

	rec, ok := s.registry.Lookup(filter.Handle(handle))
	if !ok {
		writeNotFound(w, "instance not attached")
		return
	}
	writeJSON(w, http.StatusOK, toInstance(rec))
}

func (s *Server) handleGetChannel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.channelStatus())
}

// ChannelReset is the body of POST /api/v1/channel/reset.
type ChannelReset struct {
	ChannelStatus
	ReplacedID string `json:"replaced_id,omitempty"`
}

// handleResetChannel replaces the control channel with a fresh one while
// instances stay attached. It also recovers a channel whose creation failed
// on the first attach.
func (s *Server) handleResetChannel(w http.ResponseWriter, _ *http.Request) {
	res, err := s.registry.ResetChannel()
	if err != nil {
		writeUnavailable(w, err.Error())
		return
	}
	if res.Count == 0 {
		writeError(w, http.StatusConflict, ErrCodeConflict, "no instances attached")
		return
	}
	if res.ChannelErr != nil {
		s.logger.Error("control channel reset failed", "replaced_id", res.DeletedID, "error", res.ChannelErr)
		writeInternalError(w, "control channel creation failed: "+res.ChannelErr.Error())
		return
	}

	s.logger.Warn("control channel reset through admin API",
		"replaced_id", res.DeletedID,
		"channel_id", res.ChannelID,
	)
	writeJSON(w, http.StatusOK, ChannelReset{
		ChannelStatus: s.channelStatus(),
		ReplacedID:    res.DeletedID,
	})
}

func (s *Server) channelStatus() ChannelStatus {
	var status ChannelStatus
	status.Instances, status.ChannelID, status.Active = s.registry.State()
	if s.control != nil {
		cfg := s.control.Config()
		status.SocketPath = cfg.SocketPath
		status.AliasPath = cfg.AliasPath
		status.Exclusive = cfg.Exclusive
	}
	return status
}
