package proxy

import (
	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// LocalReader is the narrow surface pkg/entity.Reader exposes for
// matching, avoiding an import cycle.
type LocalReader interface {
	MatchedReaderNotifiee
	GUID() guid.GUID
	QoS() qos.QoS
	AddProxyWriter(*Writer)
	RemoveProxyWriter(*Writer)
}

// LocalWriter is the symmetric surface for local writers matching
// against a proxy reader.
type LocalWriter interface {
	GUID() guid.GUID
	QoS() qos.QoS
}

// MatchProxyWriter enumerates local readers on w's topic in idx and
// creates a match (both directions) for every RXO-compatible pair,
// spec section 4.5 step 8.
func MatchProxyWriter(idx *entityindex.Index, w *Writer) []LocalReader {
	var matched []LocalReader
	idx.Range(guid.KindReader, w.TopicName, nil, func(e *entityindex.Entry) bool {
		r, ok := e.Value.(LocalReader)
		if !ok {
			return true
		}
		if bad := qos.CheckCompatible(w.QoS, r.QoS()); len(bad) == 0 {
			w.AddMatch(r.GUID(), r)
			r.AddProxyWriter(w)
			matched = append(matched, r)
		}
		return true
	})
	return matched
}

// MatchProxyReader enumerates local writers on r's topic in idx and
// returns the GUIDs of the RXO-compatible ones. Unlike MatchProxyWriter
// it records no match in either direction.
func MatchProxyReader(idx *entityindex.Index, r *Reader) []guid.GUID {
	var matched []guid.GUID
	idx.Range(guid.KindWriter, r.TopicName, nil, func(e *entityindex.Entry) bool {
		lw, ok := e.Value.(LocalWriter)
		if !ok {
			return true
		}
		if bad := qos.CheckCompatible(lw.QoS(), r.QoS); len(bad) == 0 {
			matched = append(matched, lw.GUID())
		}
		return true
	})
	return matched
}

// Unmatch removes the match between w and every currently-matched
// reader, e.g. on proxy writer deletion.
func Unmatch(w *Writer, readers []LocalReader) {
	for _, r := range readers {
		w.RemoveMatch(r.GUID())
		r.RemoveProxyWriter(w)
	}
}
