package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

func main() {
	token := strings.TrimSpace(os.Getenv("API_TOKEN"))
	if token == "" {
		fmt.Println("Missing API_TOKEN environment variable (get one from /api/v1/auth/login)")
		os.Exit(1)
	}

	base := os.Getenv("API_URL")
	if base == "" {
		base = "http://localhost:8081"
	}

	req, err := http.NewRequest("POST", base+"/api/v1/jobs/start", nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Response Status: %s\n", resp.Status)
	if resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}
