package utils

import (
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("truncate", func() {
	It("returns the string unchanged when within the limit", func() {
		Expect(Truncate("short", 10)).To(Equal("short"))
	})

	It("returns the string unchanged when exactly at the limit", func() {
		Expect(Truncate("12345", 5)).To(Equal("12345"))
	})

	It("truncates with ellipsis when over the limit", func() {
		result := Truncate("this is a long string", 10)
		Expect(result).To(Equal("this is a ..."))
	})

	It("backs off to a character boundary", func() {
		// "世" is three bytes; a limit of 4 lands inside the second one.
		result := Truncate("世界世界", 4)
		Expect(result).To(Equal("世..."))
		Expect(utf8.ValidString(result)).To(BeTrue())
	})
})
