package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/relay/cmd/relay/config"
	"github.com/papercomputeco/relay/pkg/config"
)

// execute runs the config command with args and returns its stdout.
func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := configcmder.NewConfigCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		subcommands := []string{}
		for _, sub := range cmd.Commands() {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})

	It("completes config keys for the first argument", func() {
		cmd := configcmder.NewConfigCmd()
		get, _, err := cmd.Find([]string{"get"})
		Expect(err).NotTo(HaveOccurred())

		keys, directive := get.ValidArgsFunction(get, []string{}, "")
		Expect(keys).To(Equal(config.ValidConfigKeys()))
		Expect(directive).To(Equal(cobra.ShellCompDirectiveNoFileComp))

		keys, _ = get.ValidArgsFunction(get, []string{"server.listen"}, "")
		Expect(keys).To(BeEmpty())
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-config-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		// Create a local .relay dir so the manager picks it up
		Expect(os.MkdirAll(filepath.Join(tmpDir, ".relay"), 0o755)).To(Succeed())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			out, err := execute("set", "upstream.provider", "anthropic")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("upstream.provider"))

			data, err := os.ReadFile(filepath.Join(tmpDir, ".relay", "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`provider = "anthropic"`))
		})

		It("masks secrets in its output", func() {
			out, err := execute("set", "upstream.api_key", "sk-abcdef123456")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).NotTo(ContainSubstring("sk-abcdef123456"))
			Expect(out).To(ContainSubstring("3456"))
		})

		It("rejects unknown keys", func() {
			_, err := execute("set", "server.port", "value")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects invalid values", func() {
			_, err := execute("set", "server.stream_timeout", "later")
			Expect(err).To(HaveOccurred())

			_, err = os.Stat(filepath.Join(tmpDir, ".relay", "config.toml"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("requires exactly two arguments", func() {
			_, err := execute("set", "upstream.provider")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			_, err := execute("set", "upstream.model", "deepseek-reasoner")
			Expect(err).NotTo(HaveOccurred())

			out, err := execute("get", "upstream.model")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("deepseek-reasoner"))
		})

		It("shows defaults when no config file exists", func() {
			out, err := execute("get", "server.listen")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(":8787"))
		})

		It("reports an unset key", func() {
			out, err := execute("get", "upstream.api_key")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("<not set>"))
		})

		It("rejects unknown keys", func() {
			_, err := execute("get", "nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key", func() {
			out, err := execute("list")
			Expect(err).NotTo(HaveOccurred())
			for _, key := range config.ValidConfigKeys() {
				Expect(out).To(ContainSubstring(key))
			}
		})

		It("masks the api key", func() {
			_, err := execute("set", "upstream.api_key", "sk-abcdef123456")
			Expect(err).NotTo(HaveOccurred())

			out, err := execute("list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).NotTo(ContainSubstring("sk-abcdef123456"))
			Expect(out).To(ContainSubstring("********3456"))
		})

		It("rejects arguments", func() {
			_, err := execute("list", "extra")
			Expect(err).To(HaveOccurred())
		})
	})
})
