// Package kiyo runs graphs of compute-shader passes over shared images and
// presents the result every frame.
//
// The work is split across sub-packages: gpu holds the reference-counted
// device objects, program compiles and hot-reloads shader programs, graph
// records a pass graph into a command buffer, and frame drives the acquire,
// submit and present cycle. vulkan implements the device layer, and app ties
// everything to an SDL window.
package kiyo
