package filter

import "fmt"

// Status is the completion status of a channel request.
type Status string

// Request completion statuses.
const (
	StatusSuccess          Status = "success"
	StatusInvalidParameter Status = "invalid_parameter"
	StatusChannelDeleted   Status = "channel_deleted"
)

// Request is one query received on the control channel.
// Code is carried for the caller's benefit; every code performs the same
// enumeration.
type Request struct {
	Code         uint32 `json:"code"`
	InputLength  int    `json:"input_length"`
	OutputLength int    `json:"output_length"`
}

// InstanceInfo is the per-instance diagnostic record produced by a query.
type InstanceInfo struct {
	Handle       Handle `json:"handle"`
	SerialNumber uint32 `json:"serial_number"`
	SerialValid  bool   `json:"serial_valid"`
}

// Response completes a Request. Information is the number of result bytes
// written to the caller's output buffer, which is always zero: the
// enumeration is returned in Instances instead.
type Response struct {
	Status      Status         `json:"status"`
	Information int            `json:"information"`
	Instances   []InstanceInfo `json:"instances"`
}

// QueryHandler answers requests arriving on a control channel.
type QueryHandler interface {
	HandleQuery(channelID string, req Request) (Response, error)
}

// HandleQuery enumerates all attached instances for a request that arrived on
// the channel identified by channelID.
//
// The enumeration runs under the registry lock, so it is serialised against
// attach, detach and other queries and always observes a registry and channel
// that belong together. A request whose channel has since been deleted
// completes with StatusChannelDeleted.
func (r *Registry) HandleQuery(channelID string, req Request) (Response, error) {
	if req.InputLength < 0 || req.OutputLength < 0 {
		return Response{Status: StatusInvalidParameter}, fmt.Errorf("%w: negative buffer length", ErrInvalidRequest)
	}

	resp, count, err := r.enumerate(channelID, req)
	if err != nil {
		return resp, err
	}

	r.observers.notify(Event{
		Kind:      EventQueryDispatched,
		ChannelID: channelID,
		Count:     count,
		Time:      r.now(),
	})
	return resp, nil
}

func (r *Registry) enumerate(channelID string, req Request) (Response, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil || r.channel.ID() != channelID {
		return Response{Status: StatusChannelDeleted}, len(r.entries), ErrChannelDeleted
	}

	r.logger.Debug("ioctl received on control channel",
		"channel_id", channelID,
		"code", req.Code,
		"input_length", req.InputLength,
		"output_length", req.OutputLength,
	)

	n := len(r.entries)
	instances := make([]InstanceInfo, 0, n)
	for i := 0; i < n; i++ {
		e := r.entries[i]
		r.logger.Debug("attached instance",
			"index", i,
			"handle", e.Handle,
			"serial_number", e.SerialNumber,
		)
		instances = append(instances, InstanceInfo{
			Handle:       e.Handle,
			SerialNumber: e.SerialNumber,
			SerialValid:  e.SerialValid,
		})
	}

	return Response{Status: StatusSuccess, Information: 0, Instances: instances}, n, nil
}
