// Command kpoolctl drives the kpool buffer cache and page allocator against
// disk images and synthetic workloads.
package main

func main() {
	execute()
}
