// Command stagehand drives tasks and backlog items through AI agent pipelines.
package main

func main() {
	Execute()
}
