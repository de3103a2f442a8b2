package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/tls"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		hosts     = flag.String("hosts", "localhost,127.0.0.1", "Comma-separated list of hosts")
		outputDir = flag.String("output", "./certs", "Output directory for certificates")
		days      = flag.Int("days", 365, "Certificate validity in days")
	)
	flag.Parse()

	fmt.Println("🔐 Edgeboard Self-Signed Certificate Generator")
	fmt.Println("==============================================")

	var hostList []string
	for _, host := range strings.Split(*hosts, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hostList = append(hostList, host)
		}
	}

	fmt.Printf("📋 Generating certificate for hosts: %s\n", strings.Join(hostList, ", "))
	fmt.Printf("📁 Output directory: %s\n", *outputDir)
	fmt.Printf("⏰ Validity: %d days\n", *days)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Printf("❌ Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	certFile := filepath.Join(*outputDir, "cert.pem")
	keyFile := filepath.Join(*outputDir, "key.pem")

	fmt.Println("\n🔑 Generating ECDSA key pair...")
	if err := tls.GenerateSelfSigned(hostList, time.Duration(*days)*24*time.Hour, certFile, keyFile); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Println("🔍 Validating generated certificate...")
	notAfter, err := tls.VerifyPair(certFile, keyFile, hostList)
	if err != nil {
		fmt.Printf("❌ Certificate validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Certificate generated successfully!")
	fmt.Printf("📄 Certificate: %s\n", certFile)
	fmt.Printf("🔑 Private Key: %s\n", keyFile)
	fmt.Printf("⏰ Valid until: %s\n", notAfter.Format("2006-01-02 15:04:05"))

	fmt.Println("\n📝 Next steps:")
	fmt.Println("1. Copy tls-example.yaml to your config directory as tls.yaml")
	fmt.Println("2. Or set self_signed: true and let edgeboard generate and renew the pair")

	writeExampleConfig(*outputDir, hostList, certFile, keyFile)
}

// writeExampleConfig writes a tls.yaml pointing at the generated pair
func writeExampleConfig(outputDir string, hosts []string, certFile, keyFile string) {
	example := config.TLSConfig{
		Enabled: true,
		Certificates: []config.CertificateConfig{{
			Hosts:    hosts,
			CertFile: certFile,
			KeyFile:  keyFile,
		}},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		fmt.Printf("⚠️  Failed to render example config: %v\n", err)
		return
	}

	exampleFile := filepath.Join(outputDir, "tls-example.yaml")
	content := append([]byte("# Example TLS configuration for edgeboard\n"), data...)
	if err := os.WriteFile(exampleFile, content, 0o644); err != nil {
		fmt.Printf("⚠️  Failed to create example config: %v\n", err)
		return
	}

	fmt.Printf("📄 Example TLS config: %s\n", exampleFile)
}
