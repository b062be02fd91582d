// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package instrumentation

import (
	"net"
	"net/http"
	"sync"
)

// serveMux is our HTTP request multiplexer.
type serveMux struct {
	sync.Mutex
	handlers map[string]http.Handler
	mux      *http.ServeMux
}

func newServeMux() *serveMux {
	return &serveMux{
		handlers: make(map[string]http.Handler),
		mux:      http.NewServeMux(),
	}
}

// handle registers a handler for the given pattern.
func (m *serveMux) handle(pattern string, handler http.Handler) {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.handlers[pattern]; ok {
		log.Error("can't register duplicate HTTP handler for %q", pattern)
		return
	}
	m.handlers[pattern] = handler
	m.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (m *serveMux) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	m.mux.ServeHTTP(w, req)
}

// httpServer is our instrumentation HTTP server.
type httpServer struct {
	mux    *serveMux
	server *http.Server
	ln     net.Listener
}

func newHTTPServer() *httpServer {
	return &httpServer{mux: newServeMux()}
}

// start starts the HTTP server on the given address, "" disabling it.
func (s *httpServer) start(addr string) error {
	if addr == "" {
		log.Info("instrumentation HTTP server is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return instrumentationError("failed to listen on %q: %v", addr, err)
	}

	s.ln = ln
	s.server = &http.Server{Handler: s.mux}

	log.Info("HTTP server listening on %q...", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server exited with error: %v", err)
		}
	}()

	return nil
}

// stop stops the HTTP server.
func (s *httpServer) stop() {
	if s.server == nil {
		return
	}
	s.server.Close()
	s.server = nil
	s.ln = nil
}

// endpoint returns the address the server is listening on.
func (s *httpServer) endpoint() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
