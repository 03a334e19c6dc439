package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/ingest"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

// DASHContentType is the media type the DASH handler registers against.
const DASHContentType = "application/dash+xml"

// dashFactoryPriority mirrors the original's fixed factoryPriority().
const dashFactoryPriority = 100

// validNamespaces lists the MPD xmlns values this handler recognises.
var validNamespaces = map[string]bool{
	"urn:mpeg:dash:schema:mpd:2011": true,
}

// DASHHandler implements Handler for application/dash+xml manifests.
type DASHHandler struct {
	object        objectstore.Object
	segmentLength time.Duration
}

// NewDASHHandler validates obj as a parseable MPD and, if valid,
// returns a handler for it. A parse/validation failure returns an
// *apperror.Error with KindInvalidManifest so the Registry stops
// trying other constructors for this content type rather than falling
// through silently.
func NewDASHHandler(obj objectstore.Object) (Handler, error) {
	if err := validateManifest(obj.Data, obj.Metadata); err != nil {
		return nil, err
	}
	return &DASHHandler{object: obj, segmentLength: 4 * time.Second}, nil
}

// DASHFactoryPriority is exported for Registry registration call sites.
func DASHFactoryPriority() int { return dashFactoryPriority }

func validateManifest(data []byte, meta objectstore.Metadata) error {
	if meta.MediaType != "" && meta.MediaType != DASHContentType {
		return apperror.New(apperror.KindInvalidManifest,
			fmt.Sprintf("does not look like a DASH manifest: expected media type %q, got %q", DASHContentType, meta.MediaType))
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var xmlnsSeen string
	var foundRoot bool
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperror.Wrap(apperror.KindInvalidManifest, "error parsing XML", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		foundRoot = true
		if start.Name.Local != "MPD" {
			return apperror.New(apperror.KindInvalidManifest,
				fmt.Sprintf("invalid root element: expected 'MPD', found %q", start.Name.Local))
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "xmlns" {
				xmlnsSeen = attr.Value
			}
		}
		break
	}
	if !foundRoot {
		return apperror.New(apperror.KindInvalidManifest, "no root element found")
	}
	if xmlnsSeen == "" {
		return apperror.New(apperror.KindInvalidManifest, "missing 'xmlns' attribute in MPD element")
	}
	if !validNamespaces[xmlnsSeen] {
		return apperror.New(apperror.KindInvalidManifest, fmt.Sprintf("invalid MPD namespace: %q", xmlnsSeen))
	}
	return nil
}

// NextIngestItems returns one item per call: a refetch of the manifest's
// own fetched URL (object id and URL both set to it), with the fetch time
// one segment length from now and the deadline one segment length after
// that. Segment URLs are not read from the MPD; no segment items are
// produced.
func (h *DASHHandler) NextIngestItems() (time.Time, []ingest.IngestItem) {
	fetchTime := time.Now().Add(h.segmentLength)
	deadline := fetchTime.Add(h.segmentLength)
	url := h.object.Metadata.FetchedURL
	item := ingest.IngestItem{
		ObjectID:               url,
		URL:                    url,
		ObjIngestBaseURL:       h.object.Metadata.ObjIngestBaseURL,
		ObjDistributionBaseURL: h.object.Metadata.ObjDistributionBaseURL,
		Deadline:               &deadline,
	}
	return fetchTime, []ingest.IngestItem{item}
}

// DefaultDeadline returns the handler's segment length, used by the
// scheduler when no other bound applies.
func (h *DASHHandler) DefaultDeadline() time.Duration { return h.segmentLength }

// Update validates the freshly re-fetched manifest bytes and reports
// whether it is considered to differ from the copy this handler
// currently holds. Full diffing against MPD semantics is out of scope;
// this treats any successfully-validated refetch as a change.
func (h *DASHHandler) Update(data []byte, meta objectstore.Metadata) (bool, error) {
	if err := validateManifest(data, meta); err != nil {
		return false, err
	}
	h.object.Data = data
	h.object.Metadata = meta
	return true, nil
}
