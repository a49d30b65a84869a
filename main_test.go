package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSPAHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	files := fstest.MapFS{
		"index.html":    {Data: []byte("<html>portal</html>")},
		"assets/app.js": {Data: []byte("console.log(1)")},
	}
	r := gin.New()
	r.NoRoute(spaHandler(http.FS(files)))

	get := func(p string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		return w
	}

	w := get("/assets/app.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")

	w = get("/members/42")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "portal")
	assert.Empty(t, w.Header().Get("Cache-Control"))

	w = get("/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestEmbeddedIndex(t *testing.T) {
	_, err := embedded.Open("public/index.html")
	assert.NoError(t, err)
}
