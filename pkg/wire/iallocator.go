// Copyright 2024 The Ganeti Authors.
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

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/cluster"
)

// RequestType is the IAllocator request discriminant.
type RequestType string

const (
	RequestAllocate    RequestType = "allocate"
	RequestRelocate    RequestType = "relocate"
	RequestChangeGroup RequestType = "change-group"
	RequestEvacuate    RequestType = "node-evacuate"
	RequestMultiAlloc  RequestType = "multi-allocate"
)

// IRequest is the parsed IAllocator request envelope (§6).
type IRequest struct {
	Type         RequestType
	Name         string
	RelocateFrom []string
	Evacuees     []string
	EvacMode     string
	NodeGroups   []string

	Snapshot *cluster.Snapshot
}

type iallocRequestDoc struct {
	Request struct {
		Type         string   `json:"type"`
		Name         string   `json:"name"`
		RelocateFrom []string `json:"relocate_from,omitempty"`
		Instances    []string `json:"instances,omitempty"`
		EvacMode     string   `json:"evac_mode,omitempty"`
		NodeGroups   []string `json:"target_groups,omitempty"`
	} `json:"request"`
	Version int `json:"version"`
}

// DecodeIRequest parses an IAllocator request. The cluster-state fields
// (nodes, instances, nodegroups) share the snapshot document shape, so
// decoding reuses DecodeSnapshot on the same payload.
func DecodeIRequest(data []byte) (*IRequest, error) {
	var doc iallocRequestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding iallocator request envelope")
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding iallocator cluster state")
	}

	return &IRequest{
		Type:         RequestType(doc.Request.Type),
		Name:         doc.Request.Name,
		RelocateFrom: doc.Request.RelocateFrom,
		Evacuees:     doc.Request.Instances,
		EvacMode:     doc.Request.EvacMode,
		NodeGroups:   doc.Request.NodeGroups,
		Snapshot:     snap,
	}, nil
}

// IResponse is the IAllocator reply envelope.
type IResponse struct {
	Success bool
	Info    string
	Result  interface{}
}

type iallocResponseDoc struct {
	Success bool            `json:"success"`
	Info    string          `json:"info"`
	Result  json.RawMessage `json:"result"`
}

// EncodeIResponse renders an IResponse. Result is marshaled as-is: a
// []string for allocate/relocate, a [][2]interface{} for
// evacuate/change-group ({instName, targetNodes} pairs), or a
// map[string]int failure histogram.
func EncodeIResponse(r IResponse) ([]byte, error) {
	resultBytes, err := json.Marshal(r.Result)
	if err != nil {
		return nil, errors.Wrap(err, "encoding iallocator result")
	}
	return json.Marshal(iallocResponseDoc{Success: r.Success, Info: r.Info, Result: resultBytes})
}

// MoveTarget is one entry of an evacuate/change-group result: the
// instance that moved and its new placement (primary, then secondary if
// replicated).
type MoveTarget struct {
	Instance string
	Targets  []string
}

// EncodeMoveResult renders the evacuate/change-group-shaped result list.
func EncodeMoveResult(moves []MoveTarget) interface{} {
	out := make([][2]interface{}, len(moves))
	for i, m := range moves {
		out[i] = [2]interface{}{m.Instance, m.Targets}
	}
	return out
}

// AllocateInfo formats the human-readable info line used by
// allocate/relocate/change-group-style responses: "Request successful:
// N instances failed to move and M were moved successfully".
func AllocateInfo(moved, failed int) string {
	return fmt.Sprintf("Request successful: %d instances failed to move and %d were moved successfully", failed, moved)
}
