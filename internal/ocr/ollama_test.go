package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		upstream *ghttp.Server
		ollama   *Ollama
		progress []float64
		text     string
		err      error
	)

	image := []byte("png bytes")

	BeforeEach(func() {
		upstream = ghttp.NewServer()
		ollama, err = NewOllama(upstream.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
		progress = nil
	})

	AfterEach(func() {
		upstream.Close()
	})

	JustBeforeEach(func() {
		text, err = ollama.Recognize(context.Background(), image, "image/png", func(f float64) {
			progress = append(progress, f)
		})
	})

	When("the model answers", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/chat"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(image)))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "```\nINVOICE #42\n\nTotal: 100\n```"},
					Done:    true,
				}),
			))
		})

		It("returns the cleaned transcript", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("INVOICE #42\n\nTotal: 100"))
		})

		It("reports progress from 0 to 1", func() {
			Expect(progress).To(Equal([]float64{0, 1}))
		})
	})

	When("the model errors", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not found"))
		})

		It("returns ErrRecognition", func() {
			Expect(err).To(MatchError(ErrRecognition))
			Expect(err.Error()).To(ContainSubstring("model not found"))
		})

		It("does not report completion", func() {
			Expect(progress).To(Equal([]float64{0}))
		})
	})

	When("the response is not JSON", func() {
		BeforeEach(func() {
			upstream.AppendHandlers(ghttp.RespondWith(http.StatusOK, "not json"))
		})

		It("returns ErrRecognition", func() {
			Expect(err).To(MatchError(ErrRecognition))
		})
	})
})
