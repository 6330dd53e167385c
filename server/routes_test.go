package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/graph"
	"github.com/ollama/augpipe/meta"
	_ "github.com/ollama/augpipe/ops"
	"github.com/ollama/augpipe/pipeline"
	"github.com/ollama/augpipe/reader"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newPipeline(t *testing.T, n, batch int) *pipeline.Context {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))

	mem := reader.NewMemory()
	for range n {
		mem.Feed(meta.Record{Name: "leer.png"}, buf.Bytes())
	}
	kind := "server.memory." + t.Name()
	graph.DefaultRegistry.Register(kind, mem.Factory())
	t.Cleanup(func() { graph.DefaultRegistry.Unregister(kind) })

	c, err := pipeline.Create(batch, pipeline.WithBackend(device.BackendCPU), pipeline.WithThreads(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Release() })

	src, err := c.AddNode(kind, nil, nil)
	require.NoError(t, err)
	dec, err := c.AddNode("decode", []graph.NodeID{src}, graph.Params{"max_width": 4, "max_height": 4})
	require.NoError(t, err)
	require.NoError(t, c.SetOutputs(dec))
	return c
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoot(t *testing.T) {
	w := get(t, New().GenerateRoutes(), "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "augpipe is running", w.Body.String())
}

func TestPipelineStatus(t *testing.T) {
	s := New()
	h := s.GenerateRoutes()

	c := newPipeline(t, 5, 2)
	s.Attach(c)

	path := "/api/pipelines/" + c.ID().String()

	// Before Build the pipeline is visible but has no definition.
	w := get(t, h, path+"/definition")
	require.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, c.Build())
	require.NoError(t, c.Run())

	w = get(t, h, path)
	require.Equal(t, http.StatusOK, w.Code)

	var st pipeline.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, c.ID(), st.ID)
	require.True(t, st.Built)
	require.Equal(t, 2, st.BatchSize)
	require.Equal(t, 1, st.Batches)
	require.Equal(t, 3, st.Remaining)

	w = get(t, h, path+"/timing")
	require.Equal(t, http.StatusOK, w.Code)
	var timing pipeline.Timing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timing))
	require.Equal(t, 1, timing.Batches)

	w = get(t, h, path+"/definition")
	require.Equal(t, http.StatusOK, w.Code)
	var def graph.Definition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
	require.Equal(t, 2, def.BatchSize)
	require.Len(t, def.Nodes, 2)
	require.Equal(t, "decode", def.Nodes[1].Kind)

	w = get(t, h, "/api/pipelines")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Pipelines []pipeline.Status `json:"pipelines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Pipelines, 1)

	require.True(t, s.Detach(c.ID()))
	require.False(t, s.Detach(c.ID()))
	require.Equal(t, http.StatusNotFound, get(t, h, path).Code)
}

func TestPipelineLookupErrors(t *testing.T) {
	h := New().GenerateRoutes()

	w := get(t, h, "/api/pipelines/kein-uuid")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = get(t, h, "/api/pipelines/"+uuid.NewString()+"/timing")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body["error"], "not found")
}

func TestDevices(t *testing.T) {
	w := get(t, New().GenerateRoutes(), "/api/devices")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Devices []device.DeviceInfo `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Devices)
	require.Equal(t, device.BackendCPU, body.Devices[0].Backend)
}
