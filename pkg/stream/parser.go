// Copyright 2025 Weavely, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream turns model output into an ordered list of message parts.
//
// Model text may embed inline artifact references of the form
// <artifact:ref id="..." task="..."/>. The Parser consumes text deltas (or
// partial-object component deltas), replaces each reference in place with a
// data part resolved from the conversation's artifact ledger, and emits the
// surrounding text untouched. Because a reference can be split across
// arbitrary chunk boundaries, the parser holds back any tail that could
// still be the start of a reference and only emits text that is provably
// safe.
package stream

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/storage"
)

// markerRe matches a complete inline artifact reference. This is the only
// accepted form; anything else passes through as plain text.
var markerRe = regexp.MustCompile(`<artifact:ref\s+id="([^"]*?)"\s+task="([^"]*?)"\s*/>`)

const (
	markerOpen = "<artifact:ref"

	// maxMarkerLen bounds how much text the parser will hold back while
	// waiting for a reference to complete. Ids are short; anything longer
	// is not a reference.
	maxMarkerLen = 1024
)

// ArtifactResolver looks up the artifact a reference points at. A false
// return means the reference is dangling and is dropped.
type ArtifactResolver func(artifactID, taskID string) (*storage.LedgerArtifact, bool)

// PartSink receives each part as soon as it is emitted, in order. Used to
// forward parts to a live client stream while the parser also accumulates
// them for the task result.
type PartSink func(part a2a.Part)

// Parser incrementally converts model output deltas into ordered parts.
// Not safe for concurrent use; one parser serves one stream.
type Parser struct {
	resolve   ArtifactResolver
	sink      PartSink
	buf       strings.Builder
	parts     []a2a.Part
	finalized bool
	logger    *slog.Logger
}

// NewParser builds a parser over the given resolver. The sink may be nil
// when only the accumulated parts are needed.
func NewParser(resolve ArtifactResolver, sink PartSink) *Parser {
	if resolve == nil {
		resolve = func(string, string) (*storage.LedgerArtifact, bool) { return nil, false }
	}
	return &Parser{
		resolve: resolve,
		sink:    sink,
		logger:  logger.GetLogger(),
	}
}

// WriteText appends a text delta and emits every part that is now complete.
func (p *Parser) WriteText(delta string) {
	if p.finalized || delta == "" {
		return
	}
	p.buf.WriteString(delta)
	p.drain(false)
}

// WriteComponents consumes one object-stream delta's component list. Each
// component either passes through as a data part or, when it carries an
// artifact reference (props.artifact_id and props.task_id), resolves to the
// same record shape a text reference produces.
func (p *Parser) WriteComponents(components []map[string]any) {
	if p.finalized {
		return
	}
	for _, comp := range components {
		if aid, tid, ok := referenceProps(comp); ok {
			p.emitReference(aid, tid)
			continue
		}
		p.emit(a2a.DataPart(comp))
	}
}

// Finalize flushes residual text and seals the parser. A held-back tail
// that never completed into a reference is literal text and is emitted as
// such. Returns the full ordered parts list with adjacent text coalesced.
func (p *Parser) Finalize() []a2a.Part {
	if !p.finalized {
		p.drain(true)
		p.finalized = true
	}
	return coalesceText(p.parts)
}

// Parts returns everything emitted so far, uncoalesced.
func (p *Parser) Parts() []a2a.Part {
	return p.parts
}

// drain emits complete references and all provably safe text. When flush is
// set the stream is over, so the entire remainder is safe.
func (p *Parser) drain(flush bool) {
	text := p.buf.String()
	p.buf.Reset()

	for {
		loc := markerRe.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		if prefix := text[:loc[0]]; prefix != "" {
			p.emit(a2a.TextPart(prefix))
		}
		p.emitReference(text[loc[2]:loc[3]], text[loc[4]:loc[5]])
		text = text[loc[1]:]
	}

	if flush {
		if text != "" {
			p.emit(a2a.TextPart(text))
		}
		return
	}

	safe, held := splitSafe(text)
	if safe != "" {
		p.emit(a2a.TextPart(safe))
	}
	p.buf.WriteString(held)
}

func (p *Parser) emitReference(artifactID, taskID string) {
	art, ok := p.resolve(artifactID, taskID)
	if !ok {
		p.logger.Warn("Dropping unresolved artifact reference",
			"artifact_id", artifactID,
			"task_id", taskID)
		return
	}
	p.emit(a2a.DataPart(artifactData(art)))
}

func (p *Parser) emit(part a2a.Part) {
	p.parts = append(p.parts, part)
	if p.sink != nil {
		p.sink(part)
	}
}

// splitSafe returns the largest prefix of text that cannot be the start of
// an incomplete reference, plus the held-back remainder.
func splitSafe(text string) (safe, held string) {
	for i := 0; i < len(text); i++ {
		if text[i] != '<' {
			continue
		}
		if couldBeMarkerStart(text[i:]) {
			return text[:i], text[i:]
		}
	}
	return text, ""
}

// couldBeMarkerStart reports whether s might grow into a complete
// reference. Once a '>' appears without a full match, or the tail exceeds
// the length bound, the text can never match and is safe to emit.
func couldBeMarkerStart(s string) bool {
	if len(s) > maxMarkerLen {
		return false
	}
	if len(s) < len(markerOpen) {
		return strings.HasPrefix(markerOpen, s)
	}
	if !strings.HasPrefix(s, markerOpen) {
		return false
	}
	return !strings.Contains(s, ">")
}

// referenceProps extracts artifact_id and task_id from an artifact-reference
// component. Components without both ids are ordinary data components.
func referenceProps(comp map[string]any) (artifactID, taskID string, ok bool) {
	props, _ := comp["props"].(map[string]any)
	if props == nil {
		return "", "", false
	}
	artifactID, _ = props["artifact_id"].(string)
	taskID, _ = props["task_id"].(string)
	if artifactID == "" || taskID == "" {
		return "", "", false
	}
	return artifactID, taskID, true
}

// artifactData is the wire shape of a resolved reference.
func artifactData(a *storage.LedgerArtifact) map[string]any {
	return map[string]any{
		"artifactId":      a.ArtifactID,
		"taskId":          a.TaskID,
		"name":            a.Name,
		"description":     a.Description,
		"artifactType":    a.Type,
		"artifactSummary": a.Summary,
	}
}

func coalesceText(parts []a2a.Part) []a2a.Part {
	out := make([]a2a.Part, 0, len(parts))
	for _, part := range parts {
		if part.Kind == a2a.PartKindText && len(out) > 0 && out[len(out)-1].Kind == a2a.PartKindText {
			out[len(out)-1].Text += part.Text
			continue
		}
		out = append(out, part)
	}
	return out
}

// MapResolver builds a resolver over a pre-fetched artifact set. Lookup is
// by (artifactId, taskId) with a fallback on artifactId alone, since the
// model occasionally cites an artifact under the wrong task.
func MapResolver(artifacts []*storage.LedgerArtifact) ArtifactResolver {
	exact := make(map[string]*storage.LedgerArtifact, len(artifacts))
	byID := make(map[string]*storage.LedgerArtifact, len(artifacts))
	for _, a := range artifacts {
		exact[a.ArtifactID+"\x00"+a.TaskID] = a
		byID[a.ArtifactID] = a
	}
	return func(artifactID, taskID string) (*storage.LedgerArtifact, bool) {
		if a, ok := exact[artifactID+"\x00"+taskID]; ok {
			return a, true
		}
		a, ok := byID[artifactID]
		return a, ok
	}
}
