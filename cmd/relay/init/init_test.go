package initcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/relay/cmd/relay/init"
	"github.com/papercomputeco/relay/pkg/config"
)

func loadConfig(dir string) *config.Config {
	var cfg config.Config
	_, err := toml.DecodeFile(filepath.Join(dir, ".relay", "config.toml"), &cfg)
	Expect(err).NotTo(HaveOccurred())
	return &cfg
}

func runInit(args ...string) error {
	cmd := initcmder.NewInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return cmd.Execute()
}

var _ = Describe("NewInitCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
	})

	It("rejects any arguments", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Args(cmd, []string{})).To(Succeed())
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has a --preset flag", func() {
		cmd := initcmder.NewInitCmd()
		f := cmd.Flags().Lookup("preset")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(""))
	})
})

var _ = Describe("Init command execution", func() {
	var (
		tmpDir  string
		origDir string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-init-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	It("creates a .relay directory with a default config.toml", func() {
		Expect(runInit()).To(Succeed())

		info, err := os.Stat(filepath.Join(tmpDir, ".relay"))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())

		cfg := loadConfig(tmpDir)
		defaults := config.NewDefaultConfig()
		Expect(cfg.Version).To(Equal(config.CurrentV))
		Expect(cfg.Upstream.URL).To(Equal(defaults.Upstream.URL))
		Expect(cfg.Upstream.Model).To(Equal(defaults.Upstream.Model))
		Expect(cfg.Server.Listen).To(Equal(defaults.Server.Listen))
	})

	It("applies a preset", func() {
		Expect(runInit("--preset", "anthropic")).To(Succeed())

		cfg := loadConfig(tmpDir)
		Expect(cfg.Upstream.Provider).To(Equal("anthropic"))
		Expect(cfg.Upstream.URL).To(Equal("https://api.anthropic.com"))
	})

	It("rejects an unknown preset without creating anything", func() {
		Expect(runInit("--preset", "ollama")).To(MatchError(ContainSubstring("unknown preset")))

		_, err := os.Stat(filepath.Join(tmpDir, ".relay"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("leaves an existing config untouched", func() {
		Expect(os.MkdirAll(filepath.Join(tmpDir, ".relay"), 0o755)).To(Succeed())
		existing := "[upstream]\nmodel = \"custom\"\n"
		Expect(os.WriteFile(filepath.Join(tmpDir, ".relay", "config.toml"), []byte(existing), 0o600)).To(Succeed())

		Expect(runInit("--preset", "openai")).To(Succeed())

		data, err := os.ReadFile(filepath.Join(tmpDir, ".relay", "config.toml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(existing))
	})
})
