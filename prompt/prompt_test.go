package prompt_test

import (
	"bytes"
	"testing"

	"github.com/kairos-io/mount-drives/prompt"
	"github.com/kairos-io/mount-drives/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPrompt(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "prompt test suite")
}

var _ = Describe("Prompter", func() {
	var buf *bytes.Buffer
	var logger types.Logger
	BeforeEach(func() {
		buf = &bytes.Buffer{}
		logger = types.NewBufferLogger(buf)
	})

	It("AssumeYes accepts regardless of the default", func() {
		p := prompt.New(true, &logger)
		Expect(p).To(BeAssignableToTypeOf(&prompt.AssumeYes{}))
		ok, err := p.Confirm("Relabel /dev/sdb1 as Disk0?", false)
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(buf.String()).To(ContainSubstring("Assuming yes"))
	})

	It("Decline refuses regardless of the default", func() {
		p := &prompt.Decline{Logger: &logger}
		ok, err := p.Confirm("Mount new entries?", true)
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(buf.String()).To(ContainSubstring("declining"))
	})

	It("Func forwards to the wrapped function", func() {
		var asked string
		p := prompt.Func(func(message string, def bool) (bool, error) {
			asked = message
			return def, nil
		})
		ok, err := p.Confirm("question", true)
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(asked).To(Equal("question"))
	})
})
