// Package otlp converts wire-format OpenTelemetry spans into Senro's
// domain model. It is the ingestion boundary for OTLP/HTTP export
// batches: one resource descriptor per batch, protobuf-encoded spans.
package otlp

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	resourcev1 "go.opentelemetry.io/proto/otlp/resource/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/ashita-ai/senro/internal/model"
)

// SpanFromProto builds a model.Span from a wire-format span and its
// batch's resource descriptor.
//
// The resource must carry a session.id attribute: spans without a session
// association cannot be ingested (data error, not a default). experiment.name
// is optional. span_type defaults so spans from foreign instrumentation
// (LangChain, plain OTEL SDKs) are accepted.
func SpanFromProto(pb *tracev1.Span, res *resourcev1.Resource) (*model.Span, error) {
	if pb == nil {
		return nil, fmt.Errorf("otlp: nil span")
	}
	if res == nil {
		return nil, fmt.Errorf("otlp: span %q: nil resource", pb.Name)
	}

	attrs := FlattenAttributes(pb.Attributes)
	resourceAttrs := FlattenAttributes(res.Attributes)

	sessionID, ok := resourceAttrs[model.ResourceAttrSessionID]
	if !ok || sessionID == "" {
		return nil, fmt.Errorf("otlp: span %q: resource attribute %q is required", pb.Name, model.ResourceAttrSessionID)
	}

	spanType := model.SpanTypeDefault
	if st, ok := attrs[model.AttrSpanType]; ok {
		spanType = model.SpanType(st)
	}

	resourceMap := map[string]any{
		"attributes": toAnyMap(resourceAttrs),
	}

	return model.NewSpan(model.SpanParams{
		Name:         pb.Name,
		TraceID:      hex.EncodeToString(pb.TraceId),
		SpanID:       hex.EncodeToString(pb.SpanId),
		TraceState:   pb.TraceState,
		ParentSpanID: hex.EncodeToString(pb.ParentSpanId),
		SpanType:     spanType,
		Kind:         pb.Kind.String(),
		StartTime:    time.Unix(0, int64(pb.StartTimeUnixNano)).UTC(),
		EndTime:      time.Unix(0, int64(pb.EndTimeUnixNano)).UTC(),
		Status:       statusCode(pb.Status),
		SessionID:    sessionID,
		Experiment:   resourceAttrs[model.ResourceAttrExperimentName],
		Attributes:   attrs,
		Resource:     resourceMap,
		Events:       convertEvents(pb.Events),
		Links:        convertLinks(pb.Links),
	})
}

// SpansFromResourceSpans converts a full export batch. Spans that fail to
// convert are returned as errors alongside the successes so one bad span
// does not abort the batch.
func SpansFromResourceSpans(rs *tracev1.ResourceSpans) ([]*model.Span, []error) {
	var spans []*model.Span
	var errs []error
	for _, scope := range rs.ScopeSpans {
		for _, pb := range scope.Spans {
			s, err := SpanFromProto(pb, rs.Resource)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			spans = append(spans, s)
		}
	}
	return spans, errs
}

func statusCode(st *tracev1.Status) model.SpanStatus {
	if st == nil {
		return model.SpanStatusUnset
	}
	switch st.Code {
	case tracev1.Status_STATUS_CODE_OK:
		return model.SpanStatusOK
	case tracev1.Status_STATUS_CODE_ERROR:
		return model.SpanStatusError
	default:
		return model.SpanStatusUnset
	}
}

// FlattenAttributes converts the wire attribute encoding into a plain
// string-keyed map. Nested kvlist values flatten with dotted keys; array
// values serialize to JSON.
func FlattenAttributes(kvs []*commonv1.KeyValue) map[string]string {
	out := map[string]string{}
	flattenInto(out, "", kvs)
	return out
}

func flattenInto(out map[string]string, prefix string, kvs []*commonv1.KeyValue) {
	for _, kv := range kvs {
		key := kv.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		if kv.Value == nil {
			out[key] = ""
			continue
		}
		switch v := kv.Value.Value.(type) {
		case *commonv1.AnyValue_StringValue:
			out[key] = v.StringValue
		case *commonv1.AnyValue_IntValue:
			out[key] = strconv.FormatInt(v.IntValue, 10)
		case *commonv1.AnyValue_DoubleValue:
			out[key] = strconv.FormatFloat(v.DoubleValue, 'f', -1, 64)
		case *commonv1.AnyValue_BoolValue:
			out[key] = strconv.FormatBool(v.BoolValue)
		case *commonv1.AnyValue_KvlistValue:
			flattenInto(out, key, v.KvlistValue.Values)
		case *commonv1.AnyValue_ArrayValue:
			vals := make([]any, 0, len(v.ArrayValue.Values))
			for _, av := range v.ArrayValue.Values {
				vals = append(vals, anyValue(av))
			}
			raw, err := json.Marshal(vals)
			if err != nil {
				out[key] = ""
				continue
			}
			out[key] = string(raw)
		case *commonv1.AnyValue_BytesValue:
			out[key] = hex.EncodeToString(v.BytesValue)
		default:
			out[key] = ""
		}
	}
}

func anyValue(av *commonv1.AnyValue) any {
	if av == nil {
		return nil
	}
	switch v := av.Value.(type) {
	case *commonv1.AnyValue_StringValue:
		return v.StringValue
	case *commonv1.AnyValue_IntValue:
		return v.IntValue
	case *commonv1.AnyValue_DoubleValue:
		return v.DoubleValue
	case *commonv1.AnyValue_BoolValue:
		return v.BoolValue
	default:
		return nil
	}
}

func convertEvents(events []*tracev1.Span_Event) []map[string]any {
	if len(events) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"name":       ev.Name,
			"timestamp":  time.Unix(0, int64(ev.TimeUnixNano)).UTC().Format(time.RFC3339Nano),
			"attributes": toAnyMap(FlattenAttributes(ev.Attributes)),
		})
	}
	return out
}

func convertLinks(links []*tracev1.Span_Link) []map[string]any {
	if len(links) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]any{
			"trace_id":   hex.EncodeToString(l.TraceId),
			"span_id":    hex.EncodeToString(l.SpanId),
			"attributes": toAnyMap(FlattenAttributes(l.Attributes)),
		})
	}
	return out
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
