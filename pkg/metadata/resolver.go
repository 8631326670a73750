package metadata

import (
	"context"
	"net/http"
	"net/url"

	"dstransfer/pkg/client"
	"dstransfer/pkg/types"

	"go.uber.org/zap"
)

// DatastreamPath returns the endpoint-relative path of a datastream.
func DatastreamPath(addr types.ObjectAddress) string {
	return "objects/" + url.PathEscape(string(addr.PID)) + "/datastreams/" + url.PathEscape(string(addr.DatastreamID))
}

// ContentPath returns the endpoint-relative path of a datastream's bytes.
func ContentPath(addr types.ObjectAddress) string {
	return DatastreamPath(addr) + "/content"
}

// Resolver fetches datastream properties from the repository.
type Resolver struct {
	connector *client.Connector
	logger    *zap.Logger
}

// NewResolver creates a Resolver that reads datastream profiles through connector.
func NewResolver(connector *client.Connector, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{connector: connector, logger: logger}
}

// FetchProperties retrieves the datastreamProfile for addr. On any failure it
// returns nil properties and a metadata error; a missing datastream also
// matches types.ErrNotFound.
func (r *Resolver) FetchProperties(ctx context.Context, addr types.ObjectAddress) (*DatastreamProperties, error) {
	const op = "fetch properties"

	if err := addr.Validate(); err != nil {
		return nil, types.NewMetadataError(op, addr.String(), err)
	}

	h, err := r.connector.Open(ctx, DatastreamPath(addr), http.MethodGet, url.Values{"format": {"xml"}})
	if err != nil {
		return nil, types.NewMetadataError(op, addr.String(), err)
	}

	resp, err := h.Do()
	if err != nil {
		return nil, types.NewMetadataError(op, h.URL(), err)
	}
	defer resp.Body.Close()

	doc, err := ParseShallow(resp.Body, ProfileRoot)
	if err != nil {
		r.logger.Warn("Unreadable datastream profile",
			zap.String("address", addr.String()),
			zap.Error(err))
		return nil, types.NewMetadataError(op, h.URL(), err)
	}

	props := NewDatastreamProperties(addr, doc)
	size, sizeKnown := props.Size()
	r.logger.Debug("Fetched datastream properties",
		zap.String("address", addr.String()),
		zap.String("control_group", props.ControlGroup().String()),
		zap.Int64("size", size),
		zap.Bool("size_known", sizeKnown),
		zap.String("checksum_type", props.ChecksumType()))

	return props, nil
}
