package crc_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/crc-provider/internal/crc"
)

var _ = Describe("CLI", func() {
	var (
		tempBinDir string
		ctx        context.Context
	)

	// createMockCrc writes a fake crc executable running the given shell body.
	createMockCrc := func(body string) string {
		path := filepath.Join(tempBinDir, "crc")
		script := "#!/bin/sh\n" + body + "\n"
		Expect(os.WriteFile(path, []byte(script), 0755)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		var err error
		tempBinDir, err = os.MkdirTemp("", "fake-crc-*")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempBinDir)
	})

	Describe("SetupCheck", func() {
		It("should report no setup needed on exit 0", func() {
			cli := crc.NewCLI(createMockCrc("exit 0"))
			needed, err := cli.SetupCheck(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(needed).To(BeFalse())
		})

		It("should report setup needed on a non-zero exit", func() {
			cli := crc.NewCLI(createMockCrc("echo 'crc-admin-helper not installed'; exit 1"))
			needed, err := cli.SetupCheck(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(needed).To(BeTrue())
		})

		It("should fail when the binary does not exist", func() {
			cli := crc.NewCLI(filepath.Join(tempBinDir, "missing"))
			_, err := cli.SetupCheck(ctx)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Setup", func() {
		It("should stream output to the writer", func() {
			cli := crc.NewCLI(createMockCrc("echo 'INFO Checking if running as root'; echo 'INFO Setup is complete' 1>&2"))
			var out bytes.Buffer
			Expect(cli.Setup(ctx, &out)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Checking if running as root"))
			Expect(out.String()).To(ContainSubstring("Setup is complete"))
		})

		It("should return an error on failure", func() {
			cli := crc.NewCLI(createMockCrc("exit 3"))
			err := cli.Setup(ctx, &bytes.Buffer{})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("crc setup failed"))
		})
	})

	Describe("ConfigSet", func() {
		It("should pass key and value", func() {
			argsFile := filepath.Join(tempBinDir, "args")
			cli := crc.NewCLI(createMockCrc(`echo "$@" > ` + argsFile))
			Expect(cli.ConfigSet(ctx, "preset", "microshift")).To(Succeed())

			args, err := os.ReadFile(argsFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(args))).To(Equal("config set preset microshift"))
		})

		It("should include the command output on failure", func() {
			cli := crc.NewCLI(createMockCrc("echo 'invalid preset'; exit 1"))
			err := cli.ConfigSet(ctx, "preset", "bogus")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid preset"))
		})
	})

	Describe("Version", func() {
		It("should parse the JSON version output", func() {
			cli := crc.NewCLI(createMockCrc(`echo '{"version":"2.40.0","commit":"abc","openshiftVersion":"4.16.4"}'`))
			v, err := cli.Version(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("2.40.0"))
		})

		It("should reject output without a version", func() {
			cli := crc.NewCLI(createMockCrc(`echo '{}'`))
			_, err := cli.Version(ctx)
			Expect(err).To(HaveOccurred())
		})
	})
})
