package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// generate_token exchanges a Kite request token for an access token and
// writes it back into the .env file.
func main() {
	envPath := flag.String("env", ".env", ".env file to read credentials from and update")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("❌ read %s: %v", *envPath, err)
	}
	apiKey := os.Getenv("KITE_API_KEY")
	apiSecret := os.Getenv("KITE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("❌ Missing KITE_API_KEY or KITE_API_SECRET in environment or .env file")
	}

	kc := kiteconnect.New(apiKey)
	fmt.Printf("\n🔗 Login URL:\n%s\n", kc.GetLoginURL())
	fmt.Print("\nPaste the request_token from redirected URL here: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("❌ read request token: %v", err)
	}
	requestToken := strings.TrimSpace(line)
	if requestToken == "" {
		log.Fatal("❌ Empty request token")
	}

	session, err := kc.GenerateSession(requestToken, apiSecret)
	if err != nil {
		log.Fatalf("❌ Error generating access token: %v", err)
	}
	fmt.Printf("\n✅ Access Token generated for %s\n", session.UserID)

	if err := updateEnv(*envPath, "KITE_ACCESS_TOKEN", session.AccessToken); err != nil {
		log.Fatalf("❌ update %s: %v", *envPath, err)
	}
	fmt.Printf("🧩 %s updated with the new access token.\n", *envPath)
}

func updateEnv(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}
