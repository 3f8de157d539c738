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

// Package api serves the ballot state of simulated nodes over http.
package api

import (
	"net/http"

	"github.com/emicklei/go-restful"
)

// NewHandler creates the http handler serving the state of the nodes.
func NewHandler(nodes ...Backend) http.Handler {
	svc := NewService(nodes...)

	ws := new(restful.WebService)
	ws.Path("/ballot").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	ws.Route(ws.GET("/nodes").To(svc.ListNodes).
		Doc("list the node IDs"))

	ws.Route(ws.GET("/nodes/{node}/slots/{slot}").To(svc.GetSlot).
		Doc("ballot state of the slot").
		Param(ws.PathParameter("node", "node ID").DataType("string")).
		Param(ws.PathParameter("slot", "slot index").DataType("integer")))

	ws.Route(ws.POST("/nodes/{node}/slots/{slot}").To(svc.Propose).
		Doc("start the ballot protocol of the slot with a value").
		Param(ws.PathParameter("node", "node ID").DataType("string")).
		Param(ws.PathParameter("slot", "slot index").DataType("integer")).
		Reads(ProposeRequest{}))

	ws.Route(ws.GET("/nodes/{node}/slots/{slot}/quorum").To(svc.GetQuorum).
		Doc("closest v-blocking set of a node in the slot").
		Param(ws.PathParameter("node", "node ID").DataType("string")).
		Param(ws.PathParameter("slot", "slot index").DataType("integer")).
		Param(ws.QueryParameter("of", "node ID whose quorum is checked, defaults to the node").DataType("string")).
		Param(ws.QueryParameter("summary", "omit the quorum and the blocking set").DataType("boolean")))

	ws.Route(ws.GET("/nodes/{node}/slots/{slot}/value").To(svc.GetValue).
		Doc("externalized value of the slot").
		Param(ws.PathParameter("node", "node ID").DataType("string")).
		Param(ws.PathParameter("slot", "slot index").DataType("integer")))

	container := restful.NewContainer()
	container.Add(ws)

	return container
}
