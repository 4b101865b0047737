// mockwebhook はローカル検証用に署名付きのCBE/TeleBirr callbackを送る
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"hagerbet/internal/gateway"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	provider := flag.String("provider", "cbe", "cbe or telebirr")
	baseURL := flag.String("url", "http://localhost:8080", "api base url")
	txID := flag.String("tx", "", "gateway transaction id")
	status := flag.String("status", "SUCCESS", "callback status")
	flag.Parse()

	if *txID == "" {
		fmt.Fprintln(os.Stderr, "-tx is required")
		os.Exit(2)
	}

	req := resty.New().SetTimeout(10*time.Second).R().
		SetHeader("Content-Type", "application/json")

	var body []byte
	switch strings.ToLower(*provider) {
	case "cbe":
		body = mustJSON(map[string]string{"transactionId": *txID, "status": *status})
		if secret := os.Getenv("CBE_WEBHOOK_SECRET"); secret != "" {
			req.SetHeader(gateway.CBESignatureHeader, gateway.SignCBECallback(body, secret))
		}
	case "telebirr":
		params := map[string]string{
			"outTradeNo":  *txID,
			"tradeStatus": *status,
			"timestamp":   fmt.Sprintf("%d", time.Now().Unix()),
		}
		if secret := os.Getenv("TELEBIRR_APP_SECRET"); secret != "" {
			params["sign"] = gateway.SignTeleBirr(params, secret)
		}
		body = mustJSON(params)
	default:
		fmt.Fprintf(os.Stderr, "unknown provider %q\n", *provider)
		os.Exit(2)
	}

	url := strings.TrimRight(*baseURL, "/") + "/payments/webhooks/" + strings.ToLower(*provider) + "/"
	resp, err := req.SetBody(body).Post(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%d %s\n", resp.StatusCode(), resp.String())
	if resp.IsError() {
		os.Exit(1)
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
