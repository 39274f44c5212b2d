// Command deepsearch serves and runs the deep research agent.
//
//	deepsearch serve --port 3000 --secret s3cret
//	deepsearch ask "Who won the 2024 Turing Award?"
package main

func main() {
	Execute()
}
