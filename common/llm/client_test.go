package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLLM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "llm client suite")
}

var _ = Describe("injectTemporalHeader", func() {
	DescribeTable("expands or leaves the {{temporal}} marker",
		func(prompt string, wantMarker bool) {
			out := injectTemporalHeader(prompt)
			if wantMarker {
				Expect(out).To(ContainSubstring("current_date:"))
				Expect(out).To(ContainSubstring("current_year:"))
				Expect(out).NotTo(ContainSubstring("{{temporal}}"))
			} else {
				Expect(out).To(Equal(prompt))
			}
		},
		Entry("prompt with marker is expanded", "system prompt\n{{temporal}}\nmore text", true),
		Entry("prompt without marker is untouched", "plain system prompt", false),
		Entry("empty prompt is untouched", "", false),
	)
})

var _ = Describe("Temp", func() {
	It("returns a pointer to the given value", func() {
		p := Temp(0.4)
		Expect(p).NotTo(BeNil())
		Expect(*p).To(Equal(0.4))
	})
})

var _ = Describe("IsRetryable", func() {
	It("is false for a nil error", func() {
		Expect(IsRetryable(context.Background(), nil)).To(BeFalse())
	})

	It("is false once the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(IsRetryable(ctx, ctx.Err())).To(BeFalse())
	})

	It("is false once the context deadline is exceeded", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		time.Sleep(time.Millisecond)
		Expect(IsRetryable(ctx, ctx.Err())).To(BeFalse())
	})

	It("defaults to retryable for an unstructured transport error", func() {
		Expect(IsRetryable(context.Background(), errors.New("connection reset"))).To(BeTrue())
	})
})

var _ = Describe("isReasoningModel", func() {
	DescribeTable("detects models whose token budget includes reasoning",
		func(model string, want bool) {
			Expect(isReasoningModel(model)).To(Equal(want))
		},
		Entry("o1", "o1-preview", true),
		Entry("o3", "o3-mini", true),
		Entry("gpt-5", "gpt-5", true),
		Entry("gpt-4o-mini", "gpt-4o-mini", false),
		Entry("empty", "", false),
	)
})

var _ = Describe("GenerateSchema", func() {
	type reportDraft struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}

	It("reflects a non-nil schema for a struct type", func() {
		schema := GenerateSchema[reportDraft]()
		Expect(schema).NotTo(BeNil())
	})
})
