// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/emicklei/go-restful"
	"github.com/pkg/errors"

	"github.com/ultiledger/go-ballot/consensus"
	"github.com/ultiledger/go-ballot/log"
	"github.com/ultiledger/go-ballot/node"
)

// Backend is the view of a node served by the api.
type Backend interface {
	NodeID() string
	Propose(slotIndex uint64, value string) error
	SlotInfo(slotIndex uint64) (*consensus.SlotInfo, error)
	QuorumInfo(slotIndex uint64, nodeID string, summary bool) (*consensus.QuorumInfo, error)
	ExternalizedValue(slotIndex uint64) (string, error)
}

type ProposeRequest struct {
	Value string `json:"value"`
}

type ValueResponse struct {
	SlotIndex uint64 `json:"slot"`
	Value     string `json:"value"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Service dispatches the requests to the nodes by node ID.
type Service struct {
	nodes map[string]Backend
	ids   []string
}

func NewService(nodes ...Backend) *Service {
	s := &Service{nodes: make(map[string]Backend)}
	for _, n := range nodes {
		s.nodes[n.NodeID()] = n
		s.ids = append(s.ids, n.NodeID())
	}
	sort.Strings(s.ids)
	return s
}

func (s *Service) ListNodes(request *restful.Request, response *restful.Response) {
	response.WriteEntity(s.ids)
}

func (s *Service) GetSlot(request *restful.Request, response *restful.Response) {
	n, idx, ok := s.target(request, response)
	if !ok {
		return
	}
	info, err := n.SlotInfo(idx)
	if err != nil {
		writeError(response, err)
		return
	}
	response.WriteEntity(info)
}

func (s *Service) Propose(request *restful.Request, response *restful.Response) {
	n, idx, ok := s.target(request, response)
	if !ok {
		return
	}
	req := &ProposeRequest{}
	if err := request.ReadEntity(req); err != nil {
		writeStatus(response, http.StatusBadRequest, errors.Wrap(err, "read request failed"))
		return
	}
	if req.Value == "" {
		writeStatus(response, http.StatusBadRequest, errors.New("empty value"))
		return
	}
	if err := n.Propose(idx, req.Value); err != nil {
		writeError(response, err)
		return
	}
	response.WriteHeaderAndEntity(http.StatusAccepted, &ValueResponse{SlotIndex: idx, Value: req.Value})
}

func (s *Service) GetQuorum(request *restful.Request, response *restful.Response) {
	n, idx, ok := s.target(request, response)
	if !ok {
		return
	}
	nodeID := request.QueryParameter("of")
	if nodeID == "" {
		nodeID = n.NodeID()
	}
	summary := false
	if v := request.QueryParameter("summary"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeStatus(response, http.StatusBadRequest, errors.Wrap(err, "invalid summary flag"))
			return
		}
		summary = b
	}
	info, err := n.QuorumInfo(idx, nodeID, summary)
	if err != nil {
		writeError(response, err)
		return
	}
	response.WriteEntity(info)
}

func (s *Service) GetValue(request *restful.Request, response *restful.Response) {
	n, idx, ok := s.target(request, response)
	if !ok {
		return
	}
	v, err := n.ExternalizedValue(idx)
	if err != nil {
		writeError(response, err)
		return
	}
	response.WriteEntity(&ValueResponse{SlotIndex: idx, Value: v})
}

// Resolve the node and the slot index of the request path.
func (s *Service) target(request *restful.Request, response *restful.Response) (Backend, uint64, bool) {
	nodeID := request.PathParameter("node")
	n, ok := s.nodes[nodeID]
	if !ok {
		writeStatus(response, http.StatusNotFound, errors.Errorf("node %s not found", nodeID))
		return nil, 0, false
	}
	idx, err := strconv.ParseUint(request.PathParameter("slot"), 10, 64)
	if err != nil {
		writeStatus(response, http.StatusBadRequest, errors.Wrap(err, "invalid slot index"))
		return nil, 0, false
	}
	return n, idx, true
}

func writeError(response *restful.Response, err error) {
	status := http.StatusInternalServerError
	switch errors.Cause(err) {
	case consensus.ErrSlotNotFound, node.ErrNotExternalized:
		status = http.StatusNotFound
	case consensus.ErrSlotAborted:
		status = http.StatusConflict
	case node.ErrSlotPurged:
		status = http.StatusGone
	case node.ErrNodeStopped:
		status = http.StatusServiceUnavailable
	}
	writeStatus(response, status, err)
}

func writeStatus(response *restful.Response, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Errorw("api request failed", "status", status, "err", err)
	}
	response.WriteHeaderAndEntity(status, &ErrorResponse{Error: err.Error()})
}
